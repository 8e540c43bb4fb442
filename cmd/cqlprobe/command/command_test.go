package command

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/testutil"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetErr(&out)
	Root.SetArgs(args)
	t.Cleanup(func() {
		contactPoints, localDC, consistency = nil, "", ""
	})

	require.NoError(t, Root.Execute())

	return out.String()
}

func TestHostsCommand(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeDatacenters("dc1", "dc2"))

	out := runCommand(t, "hosts",
		"--contact-points", fc.Node(0).Endpoint(),
		"--local-dc", "dc1",
		"--timeout", "2s",
	)

	require.Contains(t, out, "ENDPOINT")
	for _, n := range fc.Nodes() {
		require.Contains(t, out, n.Endpoint())
	}
	require.Contains(t, out, testutil.FakeReleaseVersion)
	require.Contains(t, out, "protocol version 4")
}

func TestQueryCommand(t *testing.T) {
	fc := testutil.NewFakeCluster(t)

	out := runCommand(t, "query",
		"--contact-points", strings.Join(fc.ContactPoints(), ","),
		"--consistency", "one",
		"--timeout", "2s",
		"SELECT v FROM ks.tbl WHERE k = 'a'",
	)

	require.Contains(t, out, "v\n")
	require.Contains(t, out, fc.Node(0).Endpoint())
	require.Contains(t, out, "(1 rows")
}

func TestSessionOptionsRejectsUnknownConsistency(t *testing.T) {
	consistency = "most"
	t.Cleanup(func() { consistency = "" })

	_, err := sessionOptions()
	require.ErrorContains(t, err, "unknown consistency")
}
