package engine

// initRequest is the JSON document the sandbox-init helper reads from stdin.
type initRequest struct {
	WorkDir        string   `json:"work_dir"`
	Cmd            []string `json:"cmd"`
	Env            []string `json:"env"`
	Limits         Limits   `json:"limits"`
	SeccompProfile string   `json:"seccomp_profile,omitempty"`
	EnableSeccomp  bool     `json:"enable_seccomp"`
}

// HelperSetupExitCode is the status sandbox-init exits with when it fails
// before exec'ing the target command.
const HelperSetupExitCode = 120
