package api

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVerificationSchema_RequiresEveryFactor(t *testing.T) {
	var doc struct {
		Properties struct {
			Factors struct {
				Required []string `json:"required"`
			} `json:"factors"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(verificationSchema), &doc); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if diff := cmp.Diff(requiredFactors(), doc.Properties.Factors.Required); diff != "" {
		t.Errorf("schema factor list out of sync (-want +got):\n%s", diff)
	}
}

func TestVerificationSchema_DecodesFactors(t *testing.T) {
	s, err := NewVerificationSchema()
	if err != nil {
		t.Fatalf("NewVerificationSchema: %v", err)
	}
	v, err := s.Decode([]byte(`{"factors":{"ISR":2,"CF":1,"UXI":1,"RCF":1,"AEP":1,"L":0,"MLW":1,"CGW":1,"RF":1,"S":1,"GLRI":1}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Factors == nil || v.Factors.ISR != 2 {
		t.Fatalf("unexpected factors %+v", v.Factors)
	}
	if v.AAS != nil || v.AIVerifiedUnits != nil {
		t.Errorf("expected only factors, got %+v", v)
	}
}
