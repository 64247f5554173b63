package peer_test

import (
	"testing"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database/storage/memory"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_AddAndCopy(t *testing.T) {
	t.Log("Given the need to maintain a set of known peers.")
	{
		ps := peer.NewPeerSet()

		if !ps.Add(peer.New("10.0.0.1:9000")) {
			t.Errorf("\t%s\tShould report a new peer as unknown.", failed)
		} else {
			t.Logf("\t%s\tShould report a new peer as unknown.", success)
		}

		if ps.Add(peer.New("10.0.0.1:9000")) {
			t.Errorf("\t%s\tShould report a repeat peer as known.", failed)
		} else {
			t.Logf("\t%s\tShould report a repeat peer as known.", success)
		}

		ps.Add(peer.New("10.0.0.2:9000"))

		if got := len(ps.Copy()); got != 2 {
			t.Errorf("\t%s\tShould copy both peers, got %d.", failed, got)
		} else {
			t.Logf("\t%s\tShould copy both peers.", success)
		}

		if got := len(ps.Copy("10.0.0.1:9000")); got != 1 {
			t.Errorf("\t%s\tShould exclude the requested host, got %d.", failed, got)
		} else {
			t.Logf("\t%s\tShould exclude the requested host.", success)
		}
	}
}

func Test_Bans(t *testing.T) {
	t.Log("Given the need to ban misbehaving peers for a window.")
	{
		ps := peer.NewPeerSet()
		ps.Add(peer.New("10.0.0.3:9000"))

		ps.Ban("10.0.0.3", 50*time.Millisecond)

		if !ps.IsBanned("10.0.0.3") {
			t.Errorf("\t%s\tShould report the host banned.", failed)
		} else {
			t.Logf("\t%s\tShould report the host banned.", success)
		}

		time.Sleep(60 * time.Millisecond)

		if ps.IsBanned("10.0.0.3") {
			t.Errorf("\t%s\tShould clear the ban after the window.", failed)
		} else {
			t.Logf("\t%s\tShould clear the ban after the window.", success)
		}
	}
}

func Test_Persistence(t *testing.T) {
	t.Log("Given the need to persist known peers across restarts.")
	{
		strg := memory.New()

		ps := peer.NewPeerSet()
		if err := ps.WithStorage(strg); err != nil {
			t.Fatalf("\t%s\tShould attach storage: %v", failed, err)
		}
		ps.Add(peer.New("10.0.0.4:9000"))
		ps.Add(peer.New("10.0.0.5:9000"))
		ps.Remove("10.0.0.5:9000")

		reloaded := peer.NewPeerSet()
		if err := reloaded.WithStorage(strg); err != nil {
			t.Fatalf("\t%s\tShould reload storage: %v", failed, err)
		}

		peers := reloaded.Copy()
		if len(peers) != 1 || peers[0].Host != "10.0.0.4:9000" {
			t.Errorf("\t%s\tShould reload only the surviving peer, got %+v.", failed, peers)
		} else {
			t.Logf("\t%s\tShould reload only the surviving peer.", success)
		}
	}
}
