package cmd

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"restkit/pkg/core"
	"restkit/pkg/decode"
	"restkit/pkg/rest"
)

var errSigningUnsupported = errors.New("restprobe does not sign requests")

// probeProtocol talks to any API that reports its clock as Unix milliseconds.
type probeProtocol struct {
	name      string
	baseURL   string
	timePath  string
	timeField string
}

var _ rest.Protocol = (*probeProtocol)(nil)

func (p *probeProtocol) Name() string { return p.name }

func (p *probeProtocol) BaseURL(bool) string { return strings.TrimRight(p.baseURL, "/") }

func (p *probeProtocol) Sign(*core.Request, core.Credentials, time.Time) error {
	return errSigningUnsupported
}

func (p *probeProtocol) ServerTimeRequest() *core.Request {
	return core.NewRequest(http.MethodGet, p.timePath)
}

func (p *probeProtocol) ParseServerTime(node decode.Node) (time.Time, error) {
	return rest.MillisecondField(p.timeField)(node)
}
