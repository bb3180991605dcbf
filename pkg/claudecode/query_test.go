package claudecode

import (
	"reflect"
	"testing"
)

func TestCliArgs(t *testing.T) {
	base := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--permission-prompt-tool=stdio",
		"--verbose",
	}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "defaults",
			opts: Options{},
			want: base,
		},
		{
			name: "resume session",
			opts: Options{SessionID: "sess-42"},
			want: append(append([]string{}, base...), "--resume", "sess-42"),
		},
		{
			name: "permission mode",
			opts: Options{PermissionMode: "default"},
			want: append(append([]string{}, base...), "--permission-mode", "default"),
		},
		{
			name: "resume and mode",
			opts: Options{SessionID: "s", PermissionMode: "default"},
			want: append(append([]string{}, base...), "--resume", "s", "--permission-mode", "default"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cliArgs(tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("cliArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}
