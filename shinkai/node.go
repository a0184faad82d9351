// Package shinkai wires every component into a single running node:
// one struct owns every manager and passes capabilities down to the
// pieces that need them. It is the only package allowed to import all
// of crypto, identity, router, inbox, vfs, job, offerings, and health
// at once.
package shinkai

import (
	"context"
	"fmt"

	"github.com/shinkai-run/shinkai-node/config"
	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/did"
	"github.com/shinkai-run/shinkai-node/did/ethereum"
	"github.com/shinkai-run/shinkai-node/did/solana"
	"github.com/shinkai-run/shinkai-node/health"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/inbox"
	"github.com/shinkai-run/shinkai-node/internal/logger"
	"github.com/shinkai-run/shinkai-node/job"
	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/offerings"
	"github.com/shinkai-run/shinkai-node/router"
	"github.com/shinkai-run/shinkai-node/store"
	"github.com/shinkai-run/shinkai-node/store/memory"
	"github.com/shinkai-run/shinkai-node/store/postgres"
	"github.com/shinkai-run/shinkai-node/vfs"
)

// Node owns every manager that makes up a running Shinkai node:
// identity, routing, inbox/VFS storage, jobs, and offerings, all
// backed by one store.Store. Transport (HTTP/WebSocket), specific
// inference providers, and wallet/chain write operations are supplied
// by the caller as collaborators — this repo covers the peer-to-peer
// messaging and local-inference core only.
type Node struct {
	Self       identity.Name
	SigningKey sagecrypto.KeyPair
	EncryptKey sagecrypto.KeyPair

	Store      store.Store
	Identities *identity.Manager
	Router     *router.Router
	Inboxes    *inbox.Store
	VFS        *vfs.VFS
	Jobs       *job.Manager
	Queue      *job.Queue
	Offerings  *offerings.Mediator

	Health *health.Checker
	Logger logger.Logger

	cfg *config.Config
}

// Deps carries the external collaborators this repo treats as out of
// scope: a model-inference backend, an embedding generator for
// dynamic vector search, and the number of job-queue workers to run.
type Deps struct {
	Inference  job.InferenceClient
	Embeddings vfs.EmbeddingGenerator
	Workers    int
}

// loopbackSender delivers a Mediator's outbound protocol messages by
// re-entering this node's own Router, modeling the single-process
// case (no transport exists in this repo to reach a remote peer). A
// real deployment replaces this with a transport-backed OutboundSender
// that delivers msg to the recipient's node over the network.
type loopbackSender struct {
	router *router.Router
}

func (s loopbackSender) Send(ctx context.Context, msg *message.Message) error {
	_, err := s.router.Handle(ctx, msg)
	return err
}

// New constructs a Node for self, generating fresh signing/encryption
// keys and wiring every component together over db. Chain-backed
// remote identity resolution (did/ethereum, did/solana) is attached
// via WithChainResolvers.
func New(ctx context.Context, cfg *config.Config, self identity.Name, db store.Store, deps Deps) (*Node, error) {
	signingKey, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeEd25519)
	if err != nil {
		return nil, fmt.Errorf("shinkai: generate signing key: %w", err)
	}
	encryptKey, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	if err != nil {
		return nil, fmt.Errorf("shinkai: generate encryption key: %w", err)
	}

	registry := identity.NewRegistry(db)
	identities := identity.NewManager(registry, nil)

	inboxes := inbox.NewStore(db)
	vfsStore := vfs.NewVFS(db)

	r := router.New(self, signingKey, encryptKey, identities, inboxes)

	jobs := job.NewManager(db, inboxes, vfsStore, deps.Embeddings, deps.Inference, self, signingKey)
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := job.NewQueue(jobs, db, workers)

	mediator := offerings.NewMediator(db, self, signingKey, loopbackSender{router: r})
	r.SetOfferingsForwarder(mediator)

	log := logger.NewDefaultLogger()

	var rpcURL string
	if cfg != nil && cfg.Blockchain != nil {
		rpcURL = cfg.Blockchain.NetworkRPC
	}
	checker := health.NewChecker(rpcURL)

	n := &Node{
		Self:       self,
		SigningKey: signingKey,
		EncryptKey: encryptKey,
		Store:      db,
		Identities: identities,
		Router:     r,
		Inboxes:    inboxes,
		VFS:        vfsStore,
		Jobs:       jobs,
		Queue:      queue,
		Offerings:  mediator,
		Health:     checker,
		Logger:     log,
		cfg:        cfg,
	}
	return n, nil
}

// WithChainResolvers attaches on-chain (Ethereum and/or Solana)
// RemoteResolver backends to the node's identity manager, so names not
// held locally fall back to an external agent registry. Either client
// may be nil to skip that chain.
func (n *Node) WithChainResolvers(ethClient *ethereum.EthereumClient, solClient *solana.SolanaClient) {
	var resolvers []identity.RemoteResolver
	if ethClient != nil {
		resolvers = append(resolvers, identity.NewEthereumResolver(ethClient))
	}
	if solClient != nil {
		resolvers = append(resolvers, identity.NewSolanaResolver(solClient))
	}
	if len(resolvers) == 0 {
		return
	}
	n.Identities.SetRemoteResolver(identity.NewMultiResolver(resolvers...))
}

// DialEthereum builds an Ethereum DID client from a registry config,
// for use with WithChainResolvers.
func DialEthereum(cfg *did.RegistryConfig) (*ethereum.EthereumClient, error) {
	return ethereum.NewEthereumClient(cfg)
}

// DialSolana builds a Solana DID client from a registry config, for
// use with WithChainResolvers.
func DialSolana(cfg *did.RegistryConfig) (*solana.SolanaClient, error) {
	return solana.NewSolanaClient(cfg)
}

// OpenStore opens the store.Store backend named by cfg.KeyStore.Type:
// "postgres" dials a postgres.Store, anything else (including empty)
// returns an in-memory store.memory.Store.
func OpenStore(ctx context.Context, cfg *config.Config, pg *postgres.Config) (store.Store, error) {
	if cfg != nil && cfg.KeyStore != nil && cfg.KeyStore.Type == "postgres" {
		if pg == nil {
			return nil, fmt.Errorf("shinkai: postgres store selected but no postgres.Config given")
		}
		return postgres.NewStore(ctx, pg)
	}
	return memory.NewStore(), nil
}

// Close stops the router's dedupe cache cleanup and closes the
// underlying store connection. It does not close a job queue.
func (n *Node) Close() error {
	n.Router.Close()
	return n.Store.Close()
}
