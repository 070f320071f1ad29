// Package keys manages export signing keys on the local filesystem.
//
// Each key lives in its own directory under the store root:
//
//	<root>/<name>/ecdsa.pem            P-256 key (SEC 1 PEM)
//	<root>/<name>/dilithium3.pem       Dilithium3 seed and digest name (PEM)
//	<root>/<name>/root.seed            Ed25519 root seed (hex)
//	<root>/<name>/regions/<region>.seed  per-region seed derived from root.seed
//
// ECDSA keys are what GAEN verifiers accept. Ed25519 seeds are for regional
// test deployments that derive one key per region from a single root.
// Dilithium3 keys sign archives exchanged between servers that both
// understand the post-quantum algorithm.
package keys
