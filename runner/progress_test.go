package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

func TestConsoleProgressIndicator_Counts(t *testing.T) {
	indicator := NewConsoleProgressIndicator(log.New(), time.Hour).(*consoleProgressIndicator)
	defer indicator.Stop()

	indicator.OnTestStart(types.NewStartRecord("zest_a", []string{"zest_a"}, 1))
	indicator.OnTestStart(types.NewStartRecord("zest_a.it_x", []string{"zest_a", "zest_a.it_x"}, 1))
	assert.Len(t, indicator.running, 2)

	indicator.OnTestStop(types.NewStopRecord("zest_a.it_x", []string{"zest_a", "zest_a.it_x"}, 1, 0, "", &types.ErrorInfo{ClassName: "Failure"}))
	indicator.OnTestStop(types.NewStopRecord("zest_a", []string{"zest_a"}, 1, 0, "", nil))

	assert.Empty(t, indicator.running)
	assert.Equal(t, 2, indicator.completed)
	assert.Equal(t, 1, indicator.failed)
	assert.Equal(t, 0, indicator.skipped)
	assert.Equal(t, 1, indicator.roots)

	// Stop is idempotent
	indicator.Stop()
}

func TestNoOpProgressIndicator(t *testing.T) {
	indicator := NewNoOpProgressIndicator()
	indicator.OnTestStart(types.NewStartRecord("zest_a", []string{"zest_a"}, 1))
	indicator.OnTestStop(types.NewStopRecord("zest_a", []string{"zest_a"}, 1, 0, "", nil))
	indicator.Stop()
}

func TestFormatRunningZests(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		running map[string]time.Time
		maxShow int
		want    []string
	}{
		{
			name:    "nothing running",
			running: map[string]time.Time{},
			maxShow: 3,
		},
		{
			name: "longest first",
			running: map[string]time.Time{
				"zest_a": now.Add(-2 * time.Second),
				"zest_b": now.Add(-5 * time.Second),
			},
			maxShow: 3,
			want:    []string{"zest_b (5s)", "zest_a (2s)"},
		},
		{
			name: "truncated",
			running: map[string]time.Time{
				"zest_a": now.Add(-1 * time.Second),
				"zest_b": now.Add(-2 * time.Second),
				"zest_c": now.Add(-3 * time.Second),
			},
			maxShow: 1,
			want:    []string{"zest_c (3s)", "+2 more"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatRunningZests(tt.running, tt.maxShow)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, strings.Join(tt.want, ", "), got)
		})
	}
}
