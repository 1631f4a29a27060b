package utils

// Populated at build time via -ldflags.
var (
	Tag        string
	GitHash    string
	BuildStamp string
)
