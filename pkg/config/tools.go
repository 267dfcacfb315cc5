package config

// ToolsConfig controls the tool surface: recursion bounds, web fetch caps,
// and the public base URL advertised in submission results.
type ToolsConfig struct {
	// MaxToolDepth bounds tool-from-tool recursion per request.
	MaxToolDepth int

	// FetchMaxBytes caps the response body size fetch_url will read.
	FetchMaxBytes int64

	// FetchMaxChars truncates extracted page text before indexing or return.
	FetchMaxChars int

	// PublicBaseURL prefixes the sse_url/ui_url returned on submission;
	// empty omits them.
	PublicBaseURL string
}

// DefaultToolsConfig returns the built-in tool surface defaults.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		MaxToolDepth:  3,
		FetchMaxBytes: 2 << 20,
		FetchMaxChars: 8000,
	}
}

func (c *ToolsConfig) loadEnv() error {
	var err error
	if c.MaxToolDepth, err = envInt("MAX_TOOL_DEPTH", c.MaxToolDepth); err != nil {
		return err
	}
	if n, err := envInt("FETCH_MAX_BYTES", int(c.FetchMaxBytes)); err == nil {
		c.FetchMaxBytes = int64(n)
	} else {
		return err
	}
	if c.FetchMaxChars, err = envInt("FETCH_MAX_CHARS", c.FetchMaxChars); err != nil {
		return err
	}
	c.PublicBaseURL = envString("PUBLIC_BASE_URL", c.PublicBaseURL)
	return nil
}
