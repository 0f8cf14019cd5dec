package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	PaymentStatusSuccess  = "Success"
	PaymentStatusApproved = "Approved"

	// ResponseOriginSystem marks a response built locally without calling the gateway.
	ResponseOriginSystem = "System"
	// ResponseOriginClient marks a response built after the gateway call itself failed.
	ResponseOriginClient = "Client"
)

// PaymentResponse is the canonical gateway outcome, whether it came from the
// gateway or was synthesized locally.
type PaymentResponse struct {
	ResponseOrigin string     `json:"ResponseOrigin"`
	ReturnCode     string     `json:"ReturnCode"`
	Status         string     `json:"Status"`
	Message        string     `json:"Message"`
	Account        string     `json:"Account"`
	Expiration     string     `json:"Expiration"`
	Brand          string     `json:"Brand"`
	AuthCode       string     `json:"AuthCode"`
	RefNo          string     `json:"RefNo"`
	InvoiceNo      string     `json:"InvoiceNo"`
	Amount         FlexString `json:"Amount"`
	Authorized     FlexString `json:"Authorized"`
	RecurringData  string     `json:"RecurringData"`
	Token          string     `json:"Token"`
	HttpStatus     int        `json:"HttpStatus"`
}

// UnmarshalJSON decodes each field on its own so a gateway that encodes one
// of them with an unexpected type does not lose the rest of the body.
func (r *PaymentResponse) UnmarshalJSON(b []byte) error {
	var raw map[string]FlexString
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[strings.ToLower(k)] = string(v)
	}

	*r = PaymentResponse{
		ResponseOrigin: fields["responseorigin"],
		ReturnCode:     fields["returncode"],
		Status:         fields["status"],
		Message:        fields["message"],
		Account:        fields["account"],
		Expiration:     fields["expiration"],
		Brand:          fields["brand"],
		AuthCode:       fields["authcode"],
		RefNo:          fields["refno"],
		InvoiceNo:      fields["invoiceno"],
		Amount:         FlexString(fields["amount"]),
		Authorized:     FlexString(fields["authorized"]),
		RecurringData:  fields["recurringdata"],
		Token:          fields["token"],
	}
	if v, ok := fields["httpstatus"]; ok {
		r.HttpStatus, _ = strconv.Atoi(v)
	}
	return nil
}

func (r *PaymentResponse) Succeeded() bool {
	return r.Status == PaymentStatusSuccess || r.Status == PaymentStatusApproved
}

// Synthesized reports whether no request reached the gateway for r.
func (r *PaymentResponse) Synthesized() bool {
	return r.ResponseOrigin == ResponseOriginSystem
}

// FlexString accepts JSON strings, numbers and booleans. Gateways are not
// consistent about how they encode amounts and flags.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

func FlexBool(v bool) FlexString {
	return FlexString(strconv.FormatBool(v))
}

type Credential struct {
	ManagedAcademy string
	MID            string
	APIPrivateKey  string
}
