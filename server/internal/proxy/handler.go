package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id on proxy responses.
const RequestIDHeader = "X-Request-ID"

// ServeHTTP handles /api/{apiname} and /api/{apiname}/{path...}.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set(RequestIDHeader, reqID)

	apiName := r.PathValue("apiname")
	subpath := ""
	if rest := r.PathValue("path"); rest != "" {
		subpath = "/" + rest
	}

	req := Request{
		API:     apiName,
		Subpath: subpath,
		Method:  r.Method,
		Header:  r.Header,
		Query:   r.URL.Query(),
	}

	if hasBody(r.Method) {
		body, err := readBody(r)
		if err != nil {
			slog.Warn("proxy: read request body", "request_id", reqID, "api", apiName, "err", err)
			res := errorResult(http.StatusBadRequest, apiName, err.Error())
			p.write(w, reqID, res)
			return
		}
		req.Body = body
	}

	p.write(w, reqID, p.Forward(r.Context(), req))
}

func (p *Proxy) write(w http.ResponseWriter, reqID string, res Result) {
	if p.rec != nil {
		p.rec.ProxyRequest(res.Envelope.API, res.StatusCode)
	}
	slog.Debug("proxy: response", "request_id", reqID, "api", res.Envelope.API, "status", res.StatusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	if err := json.NewEncoder(w).Encode(res.Envelope); err != nil {
		slog.Warn("proxy: encode envelope", "request_id", reqID, "err", err)
	}
}

// readBody returns the request body as JSON. Form-urlencoded bodies are
// converted to a JSON object; repeated keys become arrays.
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/x-www-form-urlencoded" || len(raw) == 0 {
		return raw, nil
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			obj[k] = vs[0]
		} else {
			obj[k] = vs
		}
	}
	return json.Marshal(obj)
}
