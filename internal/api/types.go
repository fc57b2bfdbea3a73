package api

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// TokenValidity is how long the relay honours a trust token after issuance.
const TokenValidity = 600 * time.Second

// ProxyMethodGet is the method token the trust-proxy relay expects for reads.
const ProxyMethodGet = "Get"

// DeviceInfo is the identity block served by identified-devices/config/device-info.
type DeviceInfo struct {
	MachineID             string `json:"machineId" yaml:"machineId"`
	Hostname              string `json:"hostname" yaml:"hostname"`
	PlatformMarketingName string `json:"platformMarketingName" yaml:"platformMarketingName"`
	RestFrameworkVersion  string `json:"restFrameworkVersion" yaml:"restFrameworkVersion"`
}

// Certificate is one entry of the device-certificates collection.
type Certificate struct {
	CertificateID string `json:"certificateId" yaml:"certificateId"`
	MachineID     string `json:"machineId" yaml:"machineId"`
}

// CertificateList is the device-certificates collection envelope. Items is nil
// when the response carried no items key at all.
type CertificateList struct {
	Items []Certificate `json:"items" yaml:"items"`
}

// TrustToken is an outbound trust token held by the local trust proxy.
type TrustToken struct {
	TargetHost string `json:"targetHost" yaml:"targetHost"`
	TargetPort int    `json:"targetPort" yaml:"targetPort"`
	// Timestamp is the issuance time in milliseconds since the epoch.
	Timestamp  int64  `json:"timestamp" yaml:"timestamp"`
	TargetUUID string `json:"targetUUID,omitempty" yaml:"targetUUID,omitempty"`
}

// Address returns host:port for the token target.
func (t TrustToken) Address() string {
	return net.JoinHostPort(t.TargetHost, strconv.Itoa(t.TargetPort))
}

// Remaining returns the whole seconds left in the validity window at now.
// Expired tokens yield a negative value.
func (t TrustToken) Remaining(now time.Time) int64 {
	issued := t.Timestamp / 1000
	return int64(TokenValidity/time.Second) - (now.Unix() - issued)
}

// RemoteURL builds the https URL of a management path on the token target.
func (t TrustToken) RemoteURL(path string) string {
	return fmt.Sprintf("https://%s%s", t.Address(), path)
}

// ProxyRequest is the body POSTed to the trust proxy to relay a call to a peer.
type ProxyRequest struct {
	Method string `json:"method" yaml:"method"`
	URI    string `json:"uri" yaml:"uri"`
}

// ActiveCertificateID returns the certificate id whose machine id equals
// machineID, or "" when no entry matches. When several entries match the last
// one wins.
func ActiveCertificateID(certs []Certificate, machineID string) string {
	id := ""
	for _, c := range certs {
		if c.MachineID == machineID {
			id = c.CertificateID
		}
	}
	return id
}

// HasCertificate reports whether any entry carries certificateID.
func HasCertificate(certs []Certificate, certificateID string) bool {
	for _, c := range certs {
		if c.CertificateID == certificateID {
			return true
		}
	}
	return false
}
