package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdkcrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	sdktxn "github.com/algorand/go-algorand-sdk/v2/transaction"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/tidwall/gjson"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/pkg/canonical"
)

const (
	defaultAlgodURL   = "https://testnet-api.algonode.cloud"
	defaultIndexerURL = "https://testnet-idx.algonode.cloud"

	// Validity window for submitted transactions, in rounds.
	validRounds = 1000

	// Algorand notes are capped at 1KB.
	maxNoteBytes = 1024
)

// Algorand attests redistributions with a hybrid scheme: Ed25519 signatures
// are verified off-chain, and a zero-amount self-payment carrying the
// canonical attestation note is recorded on-chain.
type Algorand struct {
	chainID    string
	algodURL   string
	indexerURL string
	token      string
	httpClient *http.Client
	signer     ed25519.PrivateKey
	sender     sdktypes.Address
}

var _ Adapter = (*Algorand)(nil)

// NewAlgorand creates the live Algorand adapter.
func NewAlgorand(cfg Config) (*Algorand, error) {
	algodURL := cfg.AlgodURL
	if algodURL == "" {
		algodURL = defaultAlgodURL
	}
	indexerURL := cfg.IndexerURL
	if indexerURL == "" {
		indexerURL = defaultIndexerURL
	}
	chainID := cfg.ChainID
	if chainID == "" {
		chainID = "testnet"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	a := &Algorand{
		chainID:    chainID,
		algodURL:   strings.TrimRight(algodURL, "/"),
		indexerURL: strings.TrimRight(indexerURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}

	if cfg.SignerKey != "" {
		seed, err := hex.DecodeString(cfg.SignerKey)
		if err != nil {
			return nil, fmt.Errorf("decode signer key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signer key must be a %d-byte seed", ed25519.SeedSize)
		}
		a.signer = ed25519.NewKeyFromSeed(seed)
		copy(a.sender[:], a.signer.Public().(ed25519.PublicKey))
	}

	return a, nil
}

func (a *Algorand) Name() string    { return "algorand" }
func (a *Algorand) ChainID() string { return a.chainID }

// BuildSubmission prepares a signed zero-amount self-payment whose note is
// the canonical attestation of the payload.
func (a *Algorand) BuildSubmission(payload command.Payload) (Submission, error) {
	hash, note, err := buildAttestation(payload)
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{Payload: payload, Hash: hash, Note: note}

	if a.signer == nil {
		return Submission{}, &Error{Op: "build", Message: "signer key not configured"}
	}

	params, err := a.suggestedParams(context.Background())
	if err != nil {
		return Submission{}, err
	}

	txn, err := sdktxn.MakePaymentTxn(a.sender.String(), a.sender.String(), 0, note, "", params)
	if err != nil {
		return Submission{}, &Error{Op: "build", Message: err.Error()}
	}
	_, stx, err := sdkcrypto.SignTransaction(a.signer, txn)
	if err != nil {
		return Submission{}, &Error{Op: "build", Message: err.Error()}
	}

	sub.SignedTxn = stx
	return sub, nil
}

func (a *Algorand) suggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error) {
	status, body, err := a.do(ctx, http.MethodGet, a.algodURL+"/v2/transactions/params", nil, "")
	if err != nil {
		return sdktypes.SuggestedParams{}, err
	}
	if status != http.StatusOK {
		return sdktypes.SuggestedParams{}, classify("params", status, body)
	}

	genesisHash, err := base64.StdEncoding.DecodeString(gjson.GetBytes(body, "genesis-hash").String())
	if err != nil {
		return sdktypes.SuggestedParams{}, &Error{Op: "params", Message: "bad genesis hash: " + err.Error()}
	}
	lastRound := gjson.GetBytes(body, "last-round").Uint()

	return sdktypes.SuggestedParams{
		Fee:             sdktypes.MicroAlgos(gjson.GetBytes(body, "fee").Uint()),
		MinFee:          gjson.GetBytes(body, "min-fee").Uint(),
		GenesisID:       gjson.GetBytes(body, "genesis-id").String(),
		GenesisHash:     genesisHash,
		FirstRoundValid: sdktypes.Round(lastRound),
		LastRoundValid:  sdktypes.Round(lastRound + validRounds),
	}, nil
}

// SubmitTransaction posts the signed blob to algod. It is single-shot: the
// caller owns any retry policy and must not retry after a txid is returned.
func (a *Algorand) SubmitTransaction(ctx context.Context, sub Submission) (SubmittedTx, error) {
	if len(sub.SignedTxn) == 0 {
		return SubmittedTx{}, &Error{Op: "submit", Message: "submission is not signed"}
	}

	status, body, err := a.do(ctx, http.MethodPost, a.algodURL+"/v2/transactions", sub.SignedTxn, "application/x-binary")
	if err != nil {
		return SubmittedTx{}, err
	}
	if status != http.StatusOK {
		return SubmittedTx{}, classify("submit", status, body)
	}

	txid := gjson.GetBytes(body, "txId").String()
	if txid == "" {
		return SubmittedTx{}, &Error{Op: "submit", Message: "algod returned no txid"}
	}
	return SubmittedTx{
		TxID:        txid,
		Chain:       a.Name(),
		ChainID:     a.chainID,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// GetTransaction looks the txid up on the indexer. The indexer only knows
// finalized transactions, so an unknown txid maps to ErrNotFound and the
// caller keeps waiting.
func (a *Algorand) GetTransaction(ctx context.Context, txid string) (OnChainTx, error) {
	if isDemoTxID(txid) {
		return demoConfirmed(txid), nil
	}

	status, body, err := a.do(ctx, http.MethodGet, a.indexerURL+"/v2/transactions/"+txid, nil, "")
	if err != nil {
		return OnChainTx{}, err
	}
	if status == http.StatusNotFound {
		return OnChainTx{}, ErrNotFound
	}
	if status != http.StatusOK {
		return OnChainTx{}, classify("lookup", status, body)
	}

	tx := gjson.GetBytes(body, "transaction")
	if !tx.Exists() {
		return OnChainTx{}, ErrNotFound
	}

	result := OnChainTx{TxID: txid, Status: TxPending}
	if round := tx.Get("confirmed-round"); round.Exists() && round.Uint() > 0 {
		now := time.Now().UTC()
		result.Status = TxConfirmed
		result.Block = round.Uint()
		result.ConfirmedRound = round.Uint()
		result.Fee = float64(tx.Get("fee").Uint()) / 1_000_000 // microalgos to algos
		result.ConfirmedAt = &now
	}
	return result, nil
}

func (a *Algorand) VerifyOffchainSignature(message, signature, publicKey []byte) bool {
	return canonical.VerifySignature(message, signature, publicKey)
}

func (a *Algorand) do(ctx context.Context, method, url string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, &Error{Op: "request", Message: err.Error()}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != "" {
		req.Header.Set("X-Algo-API-Token", a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Network failures are always worth retrying.
		return 0, nil, &Error{Op: "request", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{Op: "request", Message: err.Error(), Transient: true}
	}
	return resp.StatusCode, respBody, nil
}

// classify maps an HTTP failure to a transient or permanent adapter error.
// Server-side trouble and throttling are retryable; a 4xx is a rejection.
func classify(op string, status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{
		Op:        op,
		Message:   fmt.Sprintf("http %d: %s", status, msg),
		Transient: status == http.StatusTooManyRequests || status >= 500,
	}
}

// buildAttestation hashes the payload and wraps it in the canonical note.
func buildAttestation(payload command.Payload) (string, []byte, error) {
	hash, err := canonical.Hash(payload)
	if err != nil {
		return "", nil, &Error{Op: "build", Message: err.Error()}
	}
	hashB64 := base64.StdEncoding.EncodeToString(hash)

	note, err := canonical.Marshal(map[string]any{
		"type":              "redistribution_attestation",
		"redistribution_id": payload.RedistributionID,
		"hash":              hashB64,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", nil, &Error{Op: "build", Message: err.Error()}
	}
	if len(note) > maxNoteBytes {
		note = note[:maxNoteBytes]
	}
	return hashB64, note, nil
}
