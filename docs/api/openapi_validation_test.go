package apidocs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestOpenAPISpec_Validates(t *testing.T) {
	specPath := filepath.Join("openapi.yaml")

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		t.Fatalf("failed to load OpenAPI spec: %v", err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI validation failed: %v", err)
	}
}

func mustLoad(t *testing.T) *Schemas {
	t.Helper()
	s, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestValidateDeviceInfo(t *testing.T) {
	s := mustLoad(t)
	ok := `{"machineId":"m1","hostname":"bigip1","platformMarketingName":"BIG-IP Virtual Edition","restFrameworkVersion":"13.1.0","extra":true}`
	if err := s.Validate(SchemaDeviceInfo, []byte(ok)); err != nil {
		t.Fatalf("expected valid device info: %v", err)
	}
	missing := `{"hostname":"bigip1","platformMarketingName":"x","restFrameworkVersion":"1"}`
	if err := s.Validate(SchemaDeviceInfo, []byte(missing)); err == nil {
		t.Fatal("expected error for missing machineId")
	}
}

func TestValidateCertificateLists(t *testing.T) {
	s := mustLoad(t)
	noItems := []byte(`{"kind":"collection"}`)
	if err := s.Validate(SchemaRemoteCertificateList, noItems); err != nil {
		t.Fatalf("remote list without items must be accepted: %v", err)
	}
	if err := s.Validate(SchemaLocalCertificateList, noItems); err == nil {
		t.Fatal("local list without items must be rejected")
	}
	if err := s.Validate(SchemaLocalCertificateList, []byte(`{"items":[]}`)); err == nil {
		t.Fatal("empty local list must be rejected")
	}
	good := []byte(`{"items":[{"certificateId":"c1","machineId":"m1"}]}`)
	if err := s.Validate(SchemaLocalCertificateList, good); err != nil {
		t.Fatalf("expected valid local list: %v", err)
	}
}

func TestValidateTrustTokenList(t *testing.T) {
	s := mustLoad(t)
	good := []byte(`[{"targetHost":"10.0.0.2","targetPort":443,"timestamp":1700000000000,"targetUUID":"u1"}]`)
	if err := s.Validate(SchemaTrustTokenList, good); err != nil {
		t.Fatalf("expected valid token list: %v", err)
	}
	bad := []byte(`[{"targetHost":"10.0.0.2","timestamp":1700000000000}]`)
	if err := s.Validate(SchemaTrustTokenList, bad); err == nil {
		t.Fatal("expected error for token without port")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	s := mustLoad(t)
	err := s.Validate(SchemaDeviceInfo, []byte("<html>"))
	if err == nil || !strings.Contains(err.Error(), "invalid json") {
		t.Fatalf("expected invalid json error, got %v", err)
	}
	if err := s.Validate("Nope", []byte("{}")); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
}
