package halnative

import (
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/wgpu/hal/noop"
)

func init() {
	backend.Register(backend.NameNoop, func() (rhi.Native, error) {
		b, err := New(&noop.API{}, backend.NameNoop)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}
