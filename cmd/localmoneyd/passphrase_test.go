package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperatorPassphraseFromEnv(t *testing.T) {
	t.Setenv("LOCALMONEY_TEST_PASSPHRASE", "s3cret")
	value, err := operatorPassphrase("LOCALMONEY_TEST_PASSPHRASE", nil, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "s3cret", value)

	t.Setenv("LOCALMONEY_TEST_PASSPHRASE", "  ")
	_, err = operatorPassphrase("LOCALMONEY_TEST_PASSPHRASE", nil, io.Discard)
	require.Error(t, err)
}

func TestOperatorPassphraseWithoutTerminal(t *testing.T) {
	reader, writer, err := os.Pipe()
	require.NoError(t, err)
	defer reader.Close()
	defer writer.Close()

	value, err := operatorPassphrase("LOCALMONEY_UNSET_PASSPHRASE_VAR", reader, io.Discard)
	require.NoError(t, err)
	require.Empty(t, value)
}
