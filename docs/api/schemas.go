// Package apidocs embeds the OpenAPI description of the management and trust
// proxy endpoints and validates response bodies against its schemas.
package apidocs

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Schema names defined under components/schemas.
const (
	SchemaDeviceInfo            = "DeviceInfo"
	SchemaLocalCertificateList  = "LocalCertificateList"
	SchemaRemoteCertificateList = "RemoteCertificateList"
	SchemaTrustTokenList        = "TrustTokenList"
	SchemaProxyRequest          = "ProxyRequest"
)

var ErrUnknownSchema = errors.New("unknown schema")

// Schemas validates JSON documents against the embedded component schemas.
type Schemas struct {
	doc *openapi3.T
}

// Spec returns the raw embedded document.
func Spec() []byte {
	out := make([]byte, len(specYAML))
	copy(out, specYAML)
	return out
}

// Load parses and validates the embedded document.
func Load() (*Schemas, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return &Schemas{doc: doc}, nil
}

// Validate decodes body as JSON and checks it against the named schema.
func (s *Schemas) Validate(name string, body []byte) error {
	ref, ok := s.doc.Components.Schemas[name]
	if !ok || ref == nil || ref.Value == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("%s: invalid json: %w", name, err)
	}
	if err := ref.Value.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
