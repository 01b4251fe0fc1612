package transcript_test

import (
	"bytes"
	"testing"

	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// TestTranscriptDeterminism exercises universal property 2: two Managers
// fed the same byte stream, in the same order, produce identical snapshots
// at the same scope.
func TestTranscriptDeterminism(t *testing.T) {
	crypto := stdprovider.New()
	m1, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager 1: %v", err)
	}
	m2, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager 2: %v", err)
	}

	chunks := [][]byte{[]byte("GET_VERSION"), []byte("VERSION"), []byte("GET_CAPABILITIES"), []byte("CAPABILITIES")}
	for _, c := range chunks {
		m1.Append(transcript.ScopeVCA, c)
		m2.Append(transcript.ScopeVCA, c)
	}

	s1 := m1.Snapshot(transcript.ScopeVCA)
	s2 := m2.Snapshot(transcript.ScopeVCA)
	if !bytes.Equal(s1, s2) {
		t.Fatalf("snapshots diverged: %x vs %x", s1, s2)
	}
}

// TestTranscriptScopesIndependent confirms VCA/M1M2/L1L2/TH never share a
// hasher: appending to one scope must not move another scope's snapshot.
func TestTranscriptScopesIndependent(t *testing.T) {
	crypto := stdprovider.New()
	m, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	baseline := m.Snapshot(transcript.ScopeM1M2)
	m.Append(transcript.ScopeVCA, []byte("only VCA bytes"))
	after := m.Snapshot(transcript.ScopeM1M2)

	if !bytes.Equal(baseline, after) {
		t.Fatalf("appending to ScopeVCA perturbed ScopeM1M2's snapshot")
	}
}

// TestTranscriptMutationChangesSnapshot exercises universal property 7:
// mutating any byte of the covered transcript changes the snapshot digest
// a signature would be computed over.
func TestTranscriptMutationChangesSnapshot(t *testing.T) {
	crypto := stdprovider.New()
	m1, _ := transcript.New(crypto, protocol.HashSHA256)
	m2, _ := transcript.New(crypto, protocol.HashSHA256)

	m1.Append(transcript.ScopeL1L2, []byte("GET_MEASUREMENTS request bytes"))
	m2.Append(transcript.ScopeL1L2, []byte("GET_MEASUREMENTS request byteX")) // last byte differs

	if bytes.Equal(m1.Snapshot(transcript.ScopeL1L2), m2.Snapshot(transcript.ScopeL1L2)) {
		t.Fatalf("single-byte transcript mutation did not change the snapshot")
	}
}

func TestTranscriptSeedBytesThenAppend(t *testing.T) {
	crypto := stdprovider.New()
	seeded, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	seeded.SeedBytes(transcript.ScopeTH, []byte("vca-bytes"), []byte("cert-bytes"))
	seeded.Append(transcript.ScopeTH, []byte("KEY_EXCHANGE"))

	replayed, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	replayed.Append(transcript.ScopeTH, []byte("vca-bytes"))
	replayed.Append(transcript.ScopeTH, []byte("cert-bytes"))
	replayed.Append(transcript.ScopeTH, []byte("KEY_EXCHANGE"))

	if !bytes.Equal(seeded.Snapshot(transcript.ScopeTH), replayed.Snapshot(transcript.ScopeTH)) {
		t.Fatalf("SeedBytes did not produce the same digest as sequential Append calls")
	}
}

func TestTranscriptReset(t *testing.T) {
	crypto := stdprovider.New()
	m, err := transcript.New(crypto, protocol.HashSHA256)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	empty := m.Snapshot(transcript.ScopeVCA)
	m.Append(transcript.ScopeVCA, []byte("some bytes"))
	m.Reset(transcript.ScopeVCA)
	if !bytes.Equal(empty, m.Snapshot(transcript.ScopeVCA)) {
		t.Fatalf("Reset did not return the scope to its empty digest")
	}
}
