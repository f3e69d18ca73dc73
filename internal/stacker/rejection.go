package stacker

import (
	"errors"
	"fmt"
)

// RejectKind classifies why a candidate was not queued.
type RejectKind string

// Rejection kinds, roughly in pipeline order.
const (
	KindInactiveProfile RejectKind = "inactive_profile"
	KindMalformed       RejectKind = "malformed"
	KindProtocol        RejectKind = "protocol"
	KindScope           RejectKind = "scope"
	KindBlacklist       RejectKind = "blacklist"
	KindMustMatch       RejectKind = "must_match"
	KindMustNotMatch    RejectKind = "must_not_match"
	KindDynamic         RejectKind = "dynamic"
	KindIP              RejectKind = "ip"
	KindCountry         RejectKind = "country"
	KindDuplicate       RejectKind = "duplicate"
	KindDomainCap       RejectKind = "domain_cap"
	KindRecrawlNotDue   RejectKind = "recrawl_not_due"
	KindNoRoute         RejectKind = "no_route"
	KindMediaType       RejectKind = "media_type"
	KindPush            RejectKind = "push"
)

// Rejection is the reason a candidate was dropped by the acceptance pipeline.
type Rejection struct {
	Kind   RejectKind
	Reason string
	cause  error
}

func (r *Rejection) Error() string { return r.Reason }

// Unwrap exposes the underlying cause, such as profile.ErrInactiveProfile.
func (r *Rejection) Unwrap() error { return r.cause }

func reject(kind RejectKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsDuplicate reports whether err is a duplicate-in-queue rejection.
func IsDuplicate(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej) && rej.Kind == KindDuplicate
}

// KindOf returns the rejection kind of err, or "" when err is not a Rejection.
func KindOf(err error) RejectKind {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Kind
	}
	return ""
}
