package cmd

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kunsheng/gpgpu-sim/sim/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveBroadcaster runs a minimal HTTP server whose one route upgrades to
// a websocket and registers the connection with b, mirroring the
// Kunal1522/Load-Balancing-Simulator router pattern b.run() already
// follows internally.
func serveBroadcaster(addr string, b *telemetry.Broadcaster) {
	http.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.Warnf("cmd: websocket upgrade failed: %v", err)
			return
		}
		b.Register(conn)
		defer b.Unregister(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	logrus.Infof("cmd: serving live telemetry on ws://%s/telemetry", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logrus.Fatalf("cmd: websocket server error: %v", err)
	}
}
