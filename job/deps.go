package job

import (
	"errors"

	"go.uber.org/zap"

	"xdao.co/ekexport/config"
	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/keys"
	"xdao.co/ekexport/notify"
	"xdao.co/ekexport/signing"
	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
)

// StoreOpener opens the output store and returns its close function.
type StoreOpener func() (storage.Store, func() error, error)

// OutputStore opens the backends listed in cfg.Output.
func OutputStore(cfg *config.Config, usage registry.Usage) StoreOpener {
	return func() (storage.Store, func() error, error) {
		return cfg.Output.Open(usage, "")
	}
}

// OpenDeps opens the store, signer and publisher for cfg. The returned
// close function releases all of them.
func OpenDeps(cfg *config.Config, openStore StoreOpener, log *zap.Logger) (Deps, func() error, error) {
	deps := Deps{Logger: log, Publisher: notify.Nop{}}

	store, closeStore, err := openStore()
	if err != nil {
		return Deps{}, nil, err
	}
	if closeStore == nil {
		closeStore = func() error { return nil }
	}
	deps.Store = store

	if cfg.Signer != nil {
		s, err := OpenSigner(cfg.Signer)
		if err != nil {
			_ = closeStore()
			return Deps{}, nil, err
		}
		deps.Signer = s
	}

	if cfg.Kafka != nil {
		p, err := notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, log)
		if err != nil {
			_ = closeStore()
			return Deps{}, nil, err
		}
		deps.Publisher = p
	}

	closeAll := func() error {
		return errors.Join(deps.Publisher.Close(), closeStore())
	}
	return deps, closeAll, nil
}

// OpenSigner loads the signer described by sc from the key store.
func OpenSigner(sc *config.Signer) (signing.Signer, error) {
	ks, err := keys.Open(sc.KeyStore)
	if err != nil {
		return nil, err
	}
	return ks.LoadSigner(sc.Key, sc.KeyRegion, exportpb.SignatureInfo{
		VerificationKeyID:      sc.KeyID,
		VerificationKeyVersion: sc.KeyVersion,
	})
}
