package engine

// Config controls sandbox engine behavior.
type Config struct {
	// HelperPath points at the sandbox-init binary. When UseHelper is false
	// commands are started directly.
	HelperPath       string
	UseHelper        bool
	SeccompProfile   string
	EnableSeccomp    bool
	EnableCgroup     bool
	CgroupRoot       string
	OutputLimitBytes int64
}
