package zest

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

func TestListCommand(t *testing.T) {
	reg := registry.New(log.New())
	_, err := reg.Register("zest_fast", func(z *engine.Z) {})
	require.NoError(t, err)
	_, err = reg.Register("zest_slow", func(z *engine.Z) {}, engine.Group("slow"), engine.Skip("flaky"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{name: "every root", want: []string{"zest_fast", "zest_slow", "flaky", "list_test.go"}},
		{name: "group filter", args: []string{"--groups", "slow"}, want: []string{"zest_slow"}, notWant: []string{"zest_fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(reg, "test")
			var out bytes.Buffer
			app.Writer = &out
			args := append([]string{"op-zest"}, tt.args...)
			require.NoError(t, app.Run(append(args, "list")))

			for _, s := range tt.want {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}
