package command

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"jobvisor/internal/task"
)

func TestBuild(t *testing.T) {
	t.Setenv("ComSpec", "")
	pdi := filepath.Join("opt", "pdi")
	tests := []struct {
		name string
		goos string
		tk   task.Task
		want []string
	}{
		{
			name: "exe",
			goos: "windows",
			tk:   task.Task{Path: `backup.exe`, Args: `-v --dest "D:\bk"`},
			want: []string{`backup.exe`, `-v`, `--dest`, `"D:\bk"`},
		},
		{
			name: "batch",
			goos: "windows",
			tk:   task.Task{Path: `run.BAT`, Args: `a b`},
			want: []string{"cmd", "/c", `run.BAT`, "a", "b"},
		},
		{
			name: "powershell",
			goos: "windows",
			tk:   task.Task{Path: `x.ps1`},
			want: []string{"powershell", "-ExecutionPolicy", "Bypass", "-File", `x.ps1`},
		},
		{
			name: "python posix",
			goos: "linux",
			tk:   task.Task{Path: "/srv/etl.py", Args: `--name "a b"`},
			want: []string{"python3", "/srv/etl.py", "--name", "a b"},
		},
		{
			name: "transformation",
			goos: "windows",
			tk:   task.Task{Path: `load.ktr`, Args: `/level:Basic`},
			want: []string{filepath.Join(pdi, "Pan.bat"), "/file:load.ktr", "/level:Basic"},
		},
		{
			name: "job posix",
			goos: "linux",
			tk:   task.Task{Path: "/etl/nightly.kjb"},
			want: []string{filepath.Join(pdi, "kitchen.sh"), "/file:/etl/nightly.kjb"},
		},
		{
			name: "shell script",
			goos: "linux",
			tk:   task.Task{Path: "/opt/sync.sh", Args: "now"},
			want: []string{"sh", "/opt/sync.sh", "now"},
		},
		{
			name: "unknown extension",
			goos: "linux",
			tk:   task.Task{Path: "/usr/local/bin/report.bin"},
			want: []string{"/usr/local/bin/report.bin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.tk, Options{PDIHome: pdi, GOOS: tt.goos})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPythonOverride(t *testing.T) {
	got := Build(task.Task{Path: "job.py"}, Options{Python: "/venv/bin/python", GOOS: "linux"})
	assert.Equal(t, []string{"/venv/bin/python", "job.py"}, got)
}

func TestSplitArgs(t *testing.T) {
	assert.Nil(t, SplitArgs("   ", "linux"))
	assert.Equal(t, []string{"a", "b c"}, SplitArgs(`a 'b c'`, "linux"))
	// Unbalanced quote falls back to whitespace splitting.
	assert.Equal(t, []string{"a", `"b`}, SplitArgs(`a "b`, "linux"))
	assert.Equal(t, []string{`'x y'`, "z"}, SplitArgs(`'x y' z`, "windows"))
}
