// Holder-side client: generates secrets, produces proofs locally and talks
// to the trust anchor over HTTP. Private witness values never leave this
// process; only proofs and public signals go on the wire.

package main

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk"
)

type secretsFile struct {
	IdentitySecret  string `json:"identity_secret"`
	NullifierSecret string `json:"nullifier_secret"`
}

type holderCLI struct {
	anchorURL string
	keyDir    string
	secrets   string
	curve     string
	client    *http.Client
	logger    *zap.Logger
}

func main() {
	anchorURL := flag.String("anchor", "http://localhost:8080", "Trust anchor base URL")
	keyDir := flag.String("keys", "keys", "Circuit key directory (shared with the anchor's setup)")
	secrets := flag.String("secrets", "holder-secrets.json", "Path to the holder secrets file")
	curve := flag.String("curve", "bn254", "Proving curve")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cli := &holderCLI{
		anchorURL: *anchorURL,
		keyDir:    *keyDir,
		secrets:   *secrets,
		curve:     *curve,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    logger,
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "keygen":
		err = cli.keygen()
	case "register":
		err = cli.register()
	case "authenticate":
		err = cli.authenticate()
	case "vote":
		if len(args) < 3 {
			err = fmt.Errorf("usage: holder vote <session-token> <choice>")
		} else {
			err = cli.vote(args[1], args[2])
		}
	case "admin":
		if len(args) < 4 {
			err = fmt.Errorf("usage: holder admin <admin-key> <action-type> <params>")
		} else {
			err = cli.admin(args[1], args[2], args[3])
		}
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("Command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: holder [flags] <command>

Commands:
  keygen                                  generate identity and nullifier secrets
  register                                register the identity commitment
  authenticate                            prove identity, print a session token
  vote <session-token> <choice>           cast a vote for a numeric choice
  admin <admin-key> <action-type> <params>  apply a privileged ballot mutation`)
	flag.PrintDefaults()
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

// ============================================================================
// Commands
// ============================================================================

// keygen samples two fresh field elements and writes them to the secrets
// file. The file is the holder's credential; losing it means re-registering.
func (c *holderCLI) keygen() error {
	if _, err := os.Stat(c.secrets); err == nil {
		return fmt.Errorf("secrets file already exists: %s", c.secrets)
	}

	keys, err := c.loadKeys()
	if err != nil {
		return err
	}
	modulus := keys.Curve().ScalarField()

	idSecret, err := crand.Int(crand.Reader, modulus)
	if err != nil {
		return fmt.Errorf("failed to sample identity secret: %w", err)
	}
	nullSecret, err := crand.Int(crand.Reader, modulus)
	if err != nil {
		return fmt.Errorf("failed to sample nullifier secret: %w", err)
	}

	data, err := json.MarshalIndent(secretsFile{
		IdentitySecret:  zk.FormatFieldElement(idSecret),
		NullifierSecret: zk.FormatFieldElement(nullSecret),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	if err := os.WriteFile(c.secrets, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}

	commitment := zk.IdentityCommitment(idSecret)
	c.logger.Info("Secrets generated",
		zap.String("file", c.secrets),
		zap.String("identity_commitment", zk.FormatFieldElement(commitment)),
	)
	fmt.Println(zk.FormatFieldElement(commitment))
	return nil
}

// register submits the identity commitment to the anchor. Only the
// commitment crosses the wire.
func (c *holderCLI) register() error {
	idSecret, _, err := c.loadSecrets()
	if err != nil {
		return err
	}

	commitment := zk.FormatFieldElement(zk.IdentityCommitment(idSecret))

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := c.post("/api/v1/identities", map[string]string{
		"identity_commitment": commitment,
	}, &resp); err != nil {
		return err
	}

	c.logger.Info("Registered", zap.String("identity_commitment", commitment))
	return nil
}

// authenticate proves knowledge of the registered secrets and prints the
// session token the anchor issues.
func (c *holderCLI) authenticate() error {
	idSecret, nullSecret, err := c.loadSecrets()
	if err != nil {
		return err
	}

	prover, err := c.buildProver()
	if err != nil {
		return err
	}

	witness := &zk.IdentityWitness{
		IdentitySecret:  idSecret,
		NullifierSecret: nullSecret,
	}
	envelope, err := c.prove(prover, witness)
	if err != nil {
		return err
	}

	var resp struct {
		Success      bool   `json:"success"`
		SessionToken string `json:"session_token"`
		Error        string `json:"error"`
	}
	if err := c.post("/api/v1/auth", envelope, &resp); err != nil {
		return err
	}

	c.logger.Info("Authenticated")
	fmt.Println(resp.SessionToken)
	return nil
}

// vote proves a choice commitment under the session issued by authenticate.
func (c *holderCLI) vote(token, choiceStr string) error {
	idSecret, nullSecret, err := c.loadSecrets()
	if err != nil {
		return err
	}

	choice, ok := new(big.Int).SetString(choiceStr, 10)
	if !ok {
		return fmt.Errorf("choice must be a decimal integer: %q", choiceStr)
	}

	prover, err := c.buildProver()
	if err != nil {
		return err
	}

	witness := &zk.VoteCastWitness{
		IdentitySecret:  idSecret,
		NullifierSecret: nullSecret,
		Choice:          choice,
	}
	envelope, err := c.prove(prover, witness)
	if err != nil {
		return err
	}
	envelope["session_token"] = token

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := c.post("/api/v1/votes", envelope, &resp); err != nil {
		return err
	}

	c.logger.Info("Vote recorded")
	return nil
}

// admin proves possession of an admin key authorizing one ballot mutation.
// The nonce is sampled fresh so each invocation yields a distinct action
// hash; replaying the same proof is rejected by the anchor's ledger.
func (c *holderCLI) admin(adminKeyStr, actionType, params string) error {
	adminKey, err := zk.ParseFieldElement(adminKeyStr)
	if err != nil {
		return fmt.Errorf("invalid admin key: %w", err)
	}

	prover, err := c.buildProver()
	if err != nil {
		return err
	}

	keys, err := c.loadKeys()
	if err != nil {
		return err
	}
	nonce, err := crand.Int(crand.Reader, keys.Curve().ScalarField())
	if err != nil {
		return fmt.Errorf("failed to sample action nonce: %w", err)
	}

	witness := &zk.AdminActionWitness{
		AdminKey:    adminKey,
		ActionData:  zk.ActionDataScalar(actionType, params),
		ActionNonce: nonce,
	}
	envelope, err := c.prove(prover, witness)
	if err != nil {
		return err
	}
	envelope["action_type"] = actionType
	envelope["params"] = params

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := c.post("/api/v1/admin/actions", envelope, &resp); err != nil {
		return err
	}

	c.logger.Info("Admin action applied",
		zap.String("action_type", actionType),
		zap.String("params", params),
	)
	return nil
}

// ============================================================================
// Proving helpers
// ============================================================================

func (c *holderCLI) loadKeys() (*zk.KeyManager, error) {
	keys, err := zk.NewKeyManager(c.curve, c.logger)
	if err != nil {
		return nil, err
	}
	if err := keys.LoadFromDir(c.keyDir); err != nil {
		return nil, fmt.Errorf("failed to load circuit keys (run the anchor's setup first): %w", err)
	}
	return keys, nil
}

func (c *holderCLI) buildProver() (*zk.Prover, error) {
	keys, err := c.loadKeys()
	if err != nil {
		return nil, err
	}
	return zk.NewProver(keys, c.logger), nil
}

// prove runs the prover and packs the result into the anchor's wire form.
func (c *holderCLI) prove(prover *zk.Prover, witness zk.PrivateWitness) (map[string]interface{}, error) {
	signals := &zk.PublicSignals{
		Kind:   witness.Kind(),
		Values: witness.DerivePublicSignals(),
	}

	proof, err := prover.Prove(witness, signals)
	if err != nil {
		return nil, fmt.Errorf("proving failed: %w", err)
	}

	wireSignals := make([]string, len(signals.Values))
	for i, v := range signals.Values {
		wireSignals[i] = zk.FormatFieldElement(v)
	}

	return map[string]interface{}{
		"circuit":        string(proof.Kind),
		"version":        proof.Version,
		"curve":          proof.Curve,
		"backend":        proof.Backend,
		"proof":          base64.StdEncoding.EncodeToString(proof.Data),
		"public_signals": wireSignals,
	}, nil
}

func (c *holderCLI) loadSecrets() (*big.Int, *big.Int, error) {
	data, err := os.ReadFile(c.secrets)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read secrets file (run keygen first): %w", err)
	}

	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}

	idSecret, err := zk.ParseFieldElement(sf.IdentitySecret)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid identity secret: %w", err)
	}
	nullSecret, err := zk.ParseFieldElement(sf.NullifierSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid nullifier secret: %w", err)
	}

	return idSecret, nullSecret, nil
}

// ============================================================================
// HTTP helpers
// ============================================================================

func (c *holderCLI) post(path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.anchorURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := extractError(out)
		return fmt.Errorf("anchor rejected request (status %d): %s", resp.StatusCode, msg)
	}
	return nil
}

func extractError(out interface{}) string {
	data, err := json.Marshal(out)
	if err != nil {
		return "unknown error"
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return "unknown error"
}
