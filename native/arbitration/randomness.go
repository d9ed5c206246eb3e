package arbitration

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"localmoney/core/state"
)

var (
	vrfDomain          = []byte("localmoney/arbitration/vrf")
	commitDomain       = []byte("localmoney/arbitration/commit-reveal")
	pendingCommitsKey  = []byte("arbitration/commit/pending")
	revealedPrefix     = []byte("arbitration/commit/revealed/")
	errVRFUnavailable  = errors.New("arbitration: vrf key not configured")
	errNoCommitment    = errors.New("arbitration: no pending commitment")
	errCommitMismatch  = errors.New("arbitration: reveal does not match commitment")
	errProofMismatched = errors.New("arbitration: vrf proof does not match public key")
)

// RandomnessSource yields the seed used to pick an arbitrator for a trade.
type RandomnessSource interface {
	Name() string
	Seed(store Store, req Request) ([]byte, error)
}

func seedMessage(domain []byte, req Request) []byte {
	return ethcrypto.Keccak256(domain, state.EncodeID(req.TradeID), req.Buyer[:], req.Seller[:], []byte(req.Fiat))
}

// VRFSource proves its output with a deterministic secp256k1 signature over
// the trade seed. The output is keccak256 of the signature, so anyone holding
// the public key can recompute and check it.
type VRFSource struct {
	key *ecdsa.PrivateKey
}

// NewVRFSource wraps key. A nil key yields a source that always fails, which
// lets FallbackSource move on.
func NewVRFSource(key *ecdsa.PrivateKey) *VRFSource {
	return &VRFSource{key: key}
}

func (*VRFSource) Name() string { return "vrf" }

// Prove returns the output and its proof for req.
func (v *VRFSource) Prove(req Request) (output []byte, proof []byte, err error) {
	if v == nil || v.key == nil {
		return nil, nil, errVRFUnavailable
	}
	proof, err = ethcrypto.Sign(seedMessage(vrfDomain, req), v.key)
	if err != nil {
		return nil, nil, err
	}
	return ethcrypto.Keccak256(proof), proof, nil
}

func (v *VRFSource) Seed(_ Store, req Request) ([]byte, error) {
	output, _, err := v.Prove(req)
	return output, err
}

// VerifyVRF checks proof against the uncompressed public key and returns the
// output it commits to.
func VerifyVRF(pubkey []byte, req Request, proof []byte) ([]byte, error) {
	recovered, err := ethcrypto.SigToPub(seedMessage(vrfDomain, req), proof)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ethcrypto.FromECDSAPub(recovered), pubkey) {
		return nil, errProofMismatched
	}
	return ethcrypto.Keccak256(proof), nil
}

// CommitRevealSource publishes keccak256 commitments of operator secrets ahead
// of time and reveals one per trade. A commitment is consumed exactly once.
type CommitRevealSource struct {
	mu      sync.Mutex
	secrets map[[32]byte][]byte
}

// NewCommitRevealSource returns a source with no prepared secrets.
func NewCommitRevealSource() *CommitRevealSource {
	return &CommitRevealSource{secrets: make(map[[32]byte][]byte)}
}

func (*CommitRevealSource) Name() string { return "commit_reveal" }

// Commit prunes the pool and then generates n secrets, recording their
// commitments in store. Pruning drops stored commitments this process holds no
// secret for, such as those left by a previous run, and forgets secrets whose
// commitment has been consumed.
func (c *CommitRevealSource) Commit(store Store, n int) ([][32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.prune(store); err != nil {
		return nil, err
	}
	commitments := make([][32]byte, 0, n)
	for i := 0; i < n; i++ {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		var commitment [32]byte
		copy(commitment[:], ethcrypto.Keccak256(secret))
		if err := store.KVAppend(pendingCommitsKey, commitment[:]); err != nil {
			return nil, err
		}
		c.secrets[commitment] = secret
		commitments = append(commitments, commitment)
	}
	return commitments, nil
}

func (c *CommitRevealSource) prune(store Store) error {
	var pending [][]byte
	if err := store.KVGetList(pendingCommitsKey, &pending); err != nil {
		return err
	}
	live := make(map[[32]byte]struct{}, len(pending))
	for _, raw := range pending {
		var commitment [32]byte
		copy(commitment[:], raw)
		if _, held := c.secrets[commitment]; !held {
			if err := store.KVRemove(pendingCommitsKey, raw); err != nil {
				return err
			}
			continue
		}
		live[commitment] = struct{}{}
	}
	for commitment := range c.secrets {
		if _, ok := live[commitment]; !ok {
			delete(c.secrets, commitment)
		}
	}
	return nil
}

// Pending returns the number of stored commitments whose secret this process
// still holds.
func (c *CommitRevealSource) Pending(store Reader) (int, error) {
	var pending [][]byte
	if err := store.KVGetList(pendingCommitsKey, &pending); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, raw := range pending {
		var commitment [32]byte
		copy(commitment[:], raw)
		if _, held := c.secrets[commitment]; held {
			count++
		}
	}
	return count, nil
}

// revealRecord is stored for audit once a commitment is consumed.
type revealRecord struct {
	TradeID uint64
	Secret  []byte
}

// Seed consumes the first held commitment. The secret stays in memory until
// the next Commit prunes it, so a rolled back unit can reveal it again.
func (c *CommitRevealSource) Seed(store Store, req Request) ([]byte, error) {
	var pending [][]byte
	if err := store.KVGetList(pendingCommitsKey, &pending); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range pending {
		var commitment [32]byte
		copy(commitment[:], raw)
		secret, held := c.secrets[commitment]
		if !held {
			continue
		}
		if !bytes.Equal(ethcrypto.Keccak256(secret), commitment[:]) {
			return nil, errCommitMismatch
		}
		if err := store.KVRemove(pendingCommitsKey, raw); err != nil {
			return nil, err
		}
		key := []byte(fmt.Sprintf("%s%x", revealedPrefix, commitment))
		if err := store.KVPut(key, &revealRecord{TradeID: req.TradeID, Secret: secret}); err != nil {
			return nil, err
		}
		return ethcrypto.Keccak256(commitDomain, secret, seedMessage(commitDomain, req)), nil
	}
	return nil, errNoCommitment
}

// FallbackSource tries each source in order and returns the first seed.
type FallbackSource []RandomnessSource

func (FallbackSource) Name() string { return "fallback" }

func (f FallbackSource) Seed(store Store, req Request) ([]byte, error) {
	var errs []error
	for _, source := range f {
		if source == nil {
			continue
		}
		seed, err := source.Seed(store, req)
		if err == nil {
			return seed, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
	}
	if len(errs) == 0 {
		return nil, errors.New("arbitration: no randomness source configured")
	}
	return nil, errors.Join(errs...)
}
