package main

import (
	"github.com/kunsheng/gpgpu-sim/cmd"
)

func main() {
	cmd.Execute()
}
