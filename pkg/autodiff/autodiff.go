package autodiff

import (
	"fmt"
)

// Tensor represents a tensor with gradient tracking capabilities.
//
// A tensor produced by an op keeps its inputs in Children and a BackwardFn that
// accumulates its own Grad into the Grad of every child that requires one.
type Tensor struct {
	Data       *Matrix
	Grad       *Matrix
	Requires   bool
	BackwardFn func()
	Children   []*Tensor
	Name       string // Optional name for debugging
}

// TensorConfig holds configuration options for creating a tensor
type TensorConfig struct {
	RequiresGrad bool
	Name         string
}

// DefaultTensorConfig returns the default configuration for tensors
func DefaultTensorConfig() *TensorConfig {
	return &TensorConfig{
		RequiresGrad: false,
		Name:         "",
	}
}

// NewTensor creates a new tensor from a matrix with the specified configuration
func NewTensor(data *Matrix, config *TensorConfig) (*Tensor, error) {
	if data == nil {
		return nil, fmt.Errorf("data matrix cannot be nil")
	}
	if config == nil {
		config = DefaultTensorConfig()
	}

	t := &Tensor{
		Data:     data,
		Requires: config.RequiresGrad,
		Name:     config.Name,
	}
	if config.RequiresGrad {
		grad, err := NewMatrix(data.Rows, data.Cols)
		if err != nil {
			return nil, fmt.Errorf("failed to create gradient matrix: %w", err)
		}
		t.Grad = grad
	}
	return t, nil
}

// NewParameter creates a zero-initialised trainable tensor.
func NewParameter(name string, rows, cols int) (*Tensor, error) {
	return NewZerosTensor(rows, cols, &TensorConfig{RequiresGrad: true, Name: name})
}

// Constant wraps a matrix in a tensor that never receives gradients.
func Constant(data *Matrix, name string) *Tensor {
	return &Tensor{Data: data, Name: name}
}

// NewZerosTensor creates a new tensor filled with zeros
func NewZerosTensor(rows, cols int, config *TensorConfig) (*Tensor, error) {
	data, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to create zero matrix: %w", err)
	}
	return NewTensor(data, config)
}

// Shape returns [rows, cols].
func (t *Tensor) Shape() []int {
	return []int{t.Data.Rows, t.Data.Cols}
}

// Item returns the value of a 1x1 tensor.
func (t *Tensor) Item() float64 {
	return t.Data.Data[0]
}

// ZeroGrad zeros out the gradient
func (t *Tensor) ZeroGrad() error {
	if !t.Requires {
		return fmt.Errorf("cannot zero gradient for tensor that doesn't require gradients")
	}
	if t.Grad == nil {
		return fmt.Errorf("gradient matrix is nil")
	}
	t.Grad.Zero()
	return nil
}

// Backward computes gradients of a scalar tensor with respect to every tensor
// reachable through Children that requires them.
func (t *Tensor) Backward() error {
	if t.Data.Rows != 1 || t.Data.Cols != 1 {
		return fmt.Errorf("%w: backward requires a scalar, got %dx%d", ErrShape, t.Data.Rows, t.Data.Cols)
	}
	if !t.Requires || t.Grad == nil {
		return fmt.Errorf("tensor %q does not require gradients", t.Name)
	}
	t.Grad.Data[0] = 1.0

	topo, err := topoSort(t)
	if err != nil {
		return fmt.Errorf("failed to build topology: %w", err)
	}
	for i := len(topo) - 1; i >= 0; i-- {
		if fn := topo[i].BackwardFn; fn != nil {
			fn()
		}
	}
	return nil
}

// topoSort orders the graph below root so every node follows its children.
// The walk is iterative: recurrent layers produce graphs thousands of nodes deep.
func topoSort(root *Tensor) ([]*Tensor, error) {
	type frame struct {
		node *Tensor
		next int
	}
	visited := map[*Tensor]bool{root: true}
	stack := []frame{{node: root}}
	var topo []*Tensor

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.node.Children) {
			child := top.node.Children[top.next]
			top.next++
			if child == nil {
				return nil, fmt.Errorf("nil child in tensor %s", top.node.Name)
			}
			if child.Requires && !visited[child] {
				visited[child] = true
				stack = append(stack, frame{node: child})
			}
			continue
		}
		topo = append(topo, top.node)
		stack = stack[:len(stack)-1]
	}
	return topo, nil
}

// newResult allocates the output of an op over the given inputs.
func newResult(rows, cols int, name string, inputs ...*Tensor) (*Tensor, error) {
	requires := false
	for _, in := range inputs {
		if in.Requires {
			requires = true
			break
		}
	}
	result, err := NewZerosTensor(rows, cols, &TensorConfig{RequiresGrad: requires, Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}
	if requires {
		result.Children = inputs
	}
	return result, nil
}

func checkNil(ts ...*Tensor) error {
	for _, t := range ts {
		if t == nil {
			return fmt.Errorf("input tensors cannot be nil")
		}
	}
	return nil
}
