package trust

import (
	"io"
	"log"
	"strings"
	"time"

	"trustcheck/internal/api"
)

// Reporter receives the human-facing output of a verification cycle.
type Reporter interface {
	Section(title string)
	Local(local LocalIdentity)
	Token(tok api.TrustToken, remaining int64)
	Trusted(peer PeerResult)
	CycleDone(res CycleResult)
}

// Discard drops every report.
var Discard Reporter = NewLogReporter(log.New(io.Discard, "", 0))

// LogReporter writes reports as prefixed log lines.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Section(title string) {
	r.logger.Printf("INFO: ##### %s #####", title)
}

func (r *LogReporter) Local(local LocalIdentity) {
	d := local.Device
	r.logger.Printf("INFO: local device %s version %s, hostname %s, machineId %s, certificateId %s",
		d.PlatformMarketingName, d.RestFrameworkVersion, d.Hostname, d.MachineID, certOrNone(local.CertificateID))
}

func (r *LogReporter) Token(tok api.TrustToken, remaining int64) {
	if tok.TargetUUID != "" {
		r.logger.Printf("INFO: have a trust token for %s (machineId %s) for another %d seconds", tok.Address(), tok.TargetUUID, remaining)
		return
	}
	r.logger.Printf("INFO: have a trust token for %s for another %d seconds", tok.Address(), remaining)
}

func (r *LogReporter) Trusted(peer PeerResult) {
	d := peer.Device
	r.logger.Printf("INFO: %s at %s (%s [%s] machineId: %s certificateId: %s) trusts me",
		d.Hostname, peer.Token.Address(), d.PlatformMarketingName, d.RestFrameworkVersion, d.MachineID, peer.CertificateID)
}

func (r *LogReporter) CycleDone(res CycleResult) {
	if res.Err != nil {
		r.logger.Printf("ERROR: test cycle %s failed: %v", res.ID, res.Err)
		return
	}
	r.logger.Printf("INFO: test cycle %s checked %d peer(s) in %s", res.ID, len(res.Peers), res.Finished.Sub(res.Started).Round(time.Millisecond))
}

func certOrNone(id string) string {
	if strings.TrimSpace(id) == "" {
		return "(no certificate id)"
	}
	return id
}
