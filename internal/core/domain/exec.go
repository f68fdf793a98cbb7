package domain

// ExecSpec configures one interactive exec session inside a container.
type ExecSpec struct {
	Cmd          []string `json:"cmd"`
	Env          []string `json:"env,omitempty"`
	WorkingDir   string   `json:"working_dir,omitempty"`
	TTY          bool     `json:"tty"`
	AttachStdin  bool     `json:"attach_stdin"`
	AttachStdout bool     `json:"attach_stdout"`
	AttachStderr bool     `json:"attach_stderr"`
}
