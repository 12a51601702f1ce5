// Package sample holds the integrations coresync ships with: a contact
// core type and two systems that exchange contacts with it, a spreadsheet
// and a folder of JSON files.
//
// Each system is built from a config.SystemConfig by Functions, which
// returns one engine.Function per lifecycle stage.
package sample

import (
	"context"
	"strings"

	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
)

// ContactType is the core and system entity type of every sample
// operation.
const ContactType = "contact"

// Contact is the canonical contact.
type Contact struct {
	ir.CoreMeta `json:"meta"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
}

// Meta returns the engine-owned provenance.
func (c Contact) Meta() ir.CoreMeta { return c.CoreMeta }

// WithMeta returns c with m as its provenance.
func (c Contact) WithMeta(m ir.CoreMeta) Contact {
	c.CoreMeta = m
	return c
}

// ChecksumSubset is the part of a contact whose change is worth syncing.
func (c Contact) ChecksumSubset() ir.IRObject {
	return ContactSubset(c.Name, c.Email, c.Phone)
}

// ContactSubset is the checksum subset shared by Contact and every
// system's contact shape, so an unchanged round trip compares equal.
func ContactSubset(name, email, phone string) ir.IRObject {
	return ir.IRObject{
		"name":  ir.IRString(name),
		"email": ir.IRString(email),
		"phone": ir.IRString(phone),
	}
}

// ContactSource is a system entity that describes a contact.
type ContactSource interface {
	ir.SystemEntity
	ContactFields() (name, email, phone string)
}

// EvaluateContact promotes entities with an email address. Emails are
// compared case-insensitively, so they are stored lower case. A system
// that leaves the phone blank keeps the phone core already has.
func EvaluateContact[S ContactSource](_ context.Context, in engine.EvaluationInput[S, Contact]) engine.Evaluation[Contact] {
	name, email, phone := in.Entity.ContactFields()
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return engine.Ignore[Contact]("missing email")
	}
	if phone == "" && in.Existing != nil {
		phone = in.Existing.Phone
	}
	return engine.Promote(Contact{
		Name:  strings.TrimSpace(name),
		Email: email,
		Phone: strings.TrimSpace(phone),
	})
}
