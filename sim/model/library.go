package model

// Fixed benchmark topologies, grounded on original_source/src/Models.cpp's
// VGG16/ResNet18/LeNet constructors. Each function returns a flat Cascade
// layer list except ResNet18, whose residual blocks are represented as
// Group(Parallel) children fed by a shared Conv2D predecessor, matching
// the branch-then-ByPass-merge shape Models.cpp draws in its block
// diagram comments.

// NewLeNet returns LeNet-5's five-layer topology: two conv/pool stages
// then three dense layers.
func NewLeNet() []Layer {
	return []Layer{
		{Kind: Conv2D, Name: "conv1", InChannels: 1, OutChannels: 6, InH: 32, InW: 32, KernelH: 5, KernelW: 5, Stride: 1},
		{Kind: Pooling, Name: "pool1", InChannels: 6, InH: 28, InW: 28, Stride: 2},
		{Kind: Conv2D, Name: "conv2", InChannels: 6, OutChannels: 16, InH: 14, InW: 14, KernelH: 5, KernelW: 5, Stride: 1},
		{Kind: Pooling, Name: "pool2", InChannels: 16, InH: 10, InW: 10, Stride: 2},
		{Kind: Flatten, Name: "flatten", InChannels: 16, InH: 5, InW: 5},
		{Kind: Dense, Name: "fc1", InFeatures: 400, OutFeatures: 120},
		{Kind: Dense, Name: "fc2", InFeatures: 120, OutFeatures: 84},
		{Kind: Dense, Name: "fc3", InFeatures: 84, OutFeatures: 10},
	}
}

type vggBlock struct {
	convs    int
	inCh, ch int
	size     int
}

// NewVGG16 returns the 16-weight-layer VGG topology: five conv/pool
// stages (counts 2,2,3,3,3) then three dense layers, transcribed from
// Models.cpp's VGG16() channel/size table.
func NewVGG16() []Layer {
	blocks := []vggBlock{
		{2, 3, 64, 224},
		{2, 64, 128, 112},
		{3, 128, 256, 56},
		{3, 256, 512, 28},
		{3, 512, 512, 14},
	}

	var layers []Layer
	inCh, size := 3, 224
	for _, b := range blocks {
		inCh, size = b.inCh, b.size
		for i := 0; i < b.convs; i++ {
			layers = append(layers, Layer{
				Kind: Conv2D, Name: "conv",
				InChannels: inCh, OutChannels: b.ch,
				InH: size, InW: size, KernelH: 3, KernelW: 3, Stride: 1,
			})
			inCh = b.ch
		}
		layers = append(layers, Layer{Kind: Pooling, Name: "pool", InChannels: b.ch, InH: size, InW: size, Stride: 2})
		size /= 2
	}

	layers = append(layers, Layer{Kind: Flatten, Name: "flatten", InChannels: 512, InH: 7, InW: 7})
	layers = append(layers,
		Layer{Kind: Dense, Name: "fc1", InFeatures: 25088, OutFeatures: 4096},
		Layer{Kind: Dense, Name: "fc2", InFeatures: 4096, OutFeatures: 4096},
		Layer{Kind: Dense, Name: "fc3", InFeatures: 4096, OutFeatures: 1000},
	)
	return layers
}

// NewResNet18 returns a stem conv/pool followed by four residual stages
// of two blocks each. Every block is a Group(Parallel) of a two-conv main
// branch and a ByPass skip, matching Models.cpp's "/ \ ... \ /" diagrams;
// CompileToKernels' Cascade walk treats each Group as one DAG node
// depending on the previous stage's output.
func NewResNet18() []Layer {
	layers := []Layer{
		{Kind: Conv2D, Name: "stem", InChannels: 3, OutChannels: 64, InH: 224, InW: 224, KernelH: 7, KernelW: 7, Stride: 2},
		{Kind: Pooling, Name: "stem_pool", InChannels: 64, InH: 112, InW: 112, Stride: 2},
	}

	stages := []struct{ ch, size int }{{64, 56}, {128, 28}, {256, 14}, {512, 7}}
	inCh := 64
	for _, st := range stages {
		for b := 0; b < 2; b++ {
			layers = append(layers, resNetBlock(inCh, st.ch, st.size))
			inCh = st.ch
		}
	}
	return layers
}

func resNetBlock(inCh, ch, size int) Layer {
	return Layer{
		Kind:      Group,
		Name:      "resblock",
		GroupKind: Parallel,
		Children: []Layer{
			{Kind: Conv2D, Name: "branch_a", InChannels: inCh, OutChannels: ch, InH: size, InW: size, KernelH: 3, KernelW: 3, Stride: 1},
			{Kind: Conv2D, Name: "branch_b", InChannels: ch, OutChannels: ch, InH: size, InW: size, KernelH: 3, KernelW: 3, Stride: 1},
			{Kind: ByPass, Name: "skip", InChannels: inCh, InH: size, InW: size},
		},
	}
}
