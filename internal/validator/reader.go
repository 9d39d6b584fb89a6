// Package validator reads the state of an AMFI path validator object from a
// paused validation service.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/vburojevic/amfid-allow/internal/debugger"
	"github.com/vburojevic/amfid-allow/internal/domain"
)

var (
	// ErrUnsupportedCodePath is returned when the code path is not a file URL.
	ErrUnsupportedCodePath = errors.New("unsupported code path")
	// ErrInvalidReceiver is returned when the receiver is not a plausible object pointer.
	ErrInvalidReceiver = errors.New("invalid receiver")
)

var pointerRe = regexp.MustCompile(`^0x[0-9a-fA-F]{1,16}$`)

// Reader builds snapshots with side-effect free queries against the receiver.
type Reader struct {
	log *zap.Logger
}

// NewReader creates a Reader. A nil logger discards advisories.
func NewReader(log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{log: log}
}

// Read queries the validator object at self on the stopped thread t.
func (r *Reader) Read(ctx context.Context, t debugger.Thread, self string) (domain.Snapshot, error) {
	var s domain.Snapshot

	self, err := receiver(self)
	if err != nil {
		return s, err
	}

	if s.IsValid, err = r.boolQuery(ctx, t, self, "isValid"); err != nil {
		return s, err
	}
	if s.AreEntitlementsValidated, err = r.boolQuery(ctx, t, self, "areEntitlementsValidated"); err != nil {
		return s, err
	}

	desc, err := t.Describe(ctx, fmt.Sprintf("(NSURL *)[(id)%s codePath]", self))
	if err != nil {
		return s, fmt.Errorf("read codePath: %w", err)
	}
	if s.Path, err = FilePath(desc); err != nil {
		return s, err
	}

	desc, err = t.Describe(ctx, fmt.Sprintf("(NSData *)[(id)%s cdhashAsData]", self))
	if err != nil {
		return s, fmt.Errorf("read cdhashAsData: %w", err)
	}
	if s.CDHash, err = ParseDataDescription(desc); err != nil {
		return s, err
	}

	if s.Unverified.Identifier, err = r.stringQuery(ctx, t, self, "signingIdentifier"); err != nil {
		return s, err
	}
	if s.Unverified.TeamIdentifier, err = r.stringQuery(ctx, t, self, "teamIdentifier"); err != nil {
		return s, err
	}
	if s.Unverified.Identifier == "" || s.Unverified.TeamIdentifier == "" {
		r.log.Warn("unverified identity incomplete",
			zap.String("path", s.Path),
			zap.String("identifier", s.Unverified.Identifier),
			zap.String("team_identifier", s.Unverified.TeamIdentifier))
	}

	return s, nil
}

func (r *Reader) boolQuery(ctx context.Context, t debugger.Thread, self, selector string) (bool, error) {
	v, err := t.Evaluate(ctx, fmt.Sprintf("(BOOL)[(id)%s %s]", self, selector))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", selector, err)
	}
	b, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", selector, err)
	}
	return b, nil
}

func (r *Reader) stringQuery(ctx context.Context, t debugger.Thread, self, selector string) (string, error) {
	desc, err := t.Describe(ctx, fmt.Sprintf("(NSString *)[(id)%s %s]", self, selector))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", selector, err)
	}
	desc = strings.TrimSpace(desc)
	switch desc {
	case "nil", "<nil>", "(null)":
		return "", nil
	}
	return desc, nil
}

// FilePath converts an NSURL description into a filesystem path. Anything but
// a file URL is rejected rather than guessed at.
func FilePath(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	u, err := url.Parse(desc)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsupportedCodePath, desc, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: only file:// code paths are supported (got %q)", ErrUnsupportedCodePath, desc)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: empty file URL %q", ErrUnsupportedCodePath, desc)
	}
	return u.Path, nil
}

func receiver(self string) (string, error) {
	self = strings.TrimSpace(self)
	if !pointerRe.MatchString(self) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReceiver, self)
	}
	if strings.Trim(self[2:], "0") == "" {
		return "", fmt.Errorf("%w: nil receiver", ErrInvalidReceiver)
	}
	return self, nil
}
