package client

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON = "application/json, text/javascript, */*; q=0.01"
	acceptXHR  = "*/*;q=0.5, text/javascript, application/javascript, application/ecmascript, application/x-ecmascript"
)

// baseHeaders are the browser headers every portal request carries.
func (c *Client) baseHeaders(referer string) map[string]string {
	return map[string]string{
		"User-Agent":    c.userAgent,
		"Referer":       referer,
		"Cache-Control": "no-store",
	}
}

// pageHeaders is used for full HTML page loads.
func pageHeaders(base map[string]string) map[string]string {
	h := copyHeaders(base)
	h["Accept"] = acceptHTML
	h["Accept-Language"] = "en-US,en;q=0.9"
	return h
}

// jsonHeaders is used for the availability endpoints.
func jsonHeaders(base map[string]string) map[string]string {
	h := copyHeaders(base)
	h["Accept"] = acceptJSON
	h["X-Requested-With"] = "XMLHttpRequest"
	return h
}

func copyHeaders(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+4)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
