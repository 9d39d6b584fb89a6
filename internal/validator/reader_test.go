package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vburojevic/amfid-allow/internal/debugger/debuggertest"
	"github.com/vburojevic/amfid-allow/internal/domain"
)

func validation() debuggertest.Validation {
	return debuggertest.Validation{
		IsValid:               false,
		EntitlementsValidated: true,
		CodePath:              "file:///Users/me/bin/a.out",
		CDHash:                "<01234567 89ABCDEF 01234567 89ABCDEF 01234567>",
		Identifier:            "a.out",
		TeamIdentifier:        "ABCDE12345",
	}
}

func TestReaderRead(t *testing.T) {
	th := debuggertest.ValidationThread(1, 1, validation())

	s, err := NewReader(nil).Read(context.Background(), th, debuggertest.SelfPointer)
	require.NoError(t, err)

	assert.Equal(t, domain.Snapshot{
		IsValid:                  false,
		AreEntitlementsValidated: true,
		Path:                     "/Users/me/bin/a.out",
		CDHash:                   sampleHash,
		Unverified: domain.Unverified{
			Identifier:     "a.out",
			TeamIdentifier: "ABCDE12345",
		},
	}, s)

	for _, expr := range th.Evaluations {
		assert.Contains(t, expr, "(id)"+debuggertest.SelfPointer)
	}
	assert.Len(t, th.Evaluations, 6)
	assert.Empty(t, th.Writes, "reading must not write registers")
}

func TestReaderPercentDecodesPath(t *testing.T) {
	v := validation()
	v.CodePath = "file:///Applications/My%20Tool.app/"
	th := debuggertest.ValidationThread(1, 1, v)

	s, err := NewReader(nil).Read(context.Background(), th, debuggertest.SelfPointer)
	require.NoError(t, err)
	assert.Equal(t, "/Applications/My Tool.app/", s.Path)
}

func TestReaderRejectsNonFileCodePath(t *testing.T) {
	for _, desc := range []string{
		"https://example.com/a.out",
		"/Users/me/bin/a.out",
		"(null)",
		"",
	} {
		t.Run(desc, func(t *testing.T) {
			v := validation()
			v.CodePath = desc
			th := debuggertest.ValidationThread(1, 1, v)

			_, err := NewReader(nil).Read(context.Background(), th, debuggertest.SelfPointer)
			require.ErrorIs(t, err, ErrUnsupportedCodePath)
			for _, expr := range th.Evaluations {
				assert.NotContains(t, expr, "cdhashAsData", "reading must stop at the code path")
			}
		})
	}
}

func TestReaderRejectsBadReceiver(t *testing.T) {
	th := debuggertest.ValidationThread(1, 1, validation())
	for _, self := range []string{"", "0x0", "0x0000000000000000", "1234", "0x12; (void)exit(0)", "0x12345678901234567"} {
		t.Run(self, func(t *testing.T) {
			_, err := NewReader(nil).Read(context.Background(), th, self)
			require.ErrorIs(t, err, ErrInvalidReceiver)
		})
	}
	assert.Empty(t, th.Evaluations)
}

func TestReaderPropagatesEvaluateErrors(t *testing.T) {
	th := debuggertest.ValidationThread(1, 1, validation())
	boom := errors.New("expression timed out")
	th.EvalErr = boom

	_, err := NewReader(nil).Read(context.Background(), th, debuggertest.SelfPointer)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "isValid")
}

func TestReaderMalformedCDHash(t *testing.T) {
	v := validation()
	v.CDHash = "<0123>"
	th := debuggertest.ValidationThread(1, 1, v)

	_, err := NewReader(nil).Read(context.Background(), th, debuggertest.SelfPointer)
	require.ErrorIs(t, err, ErrInvalidCDHash)
}

func TestReaderWarnsOnMissingUnverifiedIdentity(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	v := validation()
	v.Identifier = "nil"
	v.TeamIdentifier = "<nil>"
	th := debuggertest.ValidationThread(1, 1, v)

	s, err := NewReader(zap.New(core)).Read(context.Background(), th, debuggertest.SelfPointer)
	require.NoError(t, err)
	assert.Empty(t, s.Unverified.Identifier)
	assert.Empty(t, s.Unverified.TeamIdentifier)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "unverified identity incomplete", logs.All()[0].Message)
}

func TestFilePath(t *testing.T) {
	p, err := FilePath("file:///bin/foo")
	require.NoError(t, err)
	assert.Equal(t, "/bin/foo", p)

	p, err = FilePath("FILE:///bin/foo")
	require.NoError(t, err)
	assert.Equal(t, "/bin/foo", p)

	_, err = FilePath("file://")
	require.ErrorIs(t, err, ErrUnsupportedCodePath)
}
