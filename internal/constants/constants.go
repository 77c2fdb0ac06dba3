package constants

const (
	AppName = "quantum-dapp-broker"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// PersistentKV keys
	AuthUrlsKey  = "authUrls"
	ChainsKey    = "chains"
	MetadataKey  = "metadata"
	KVFileSuffix = ".json"

	HexPrefix0x = "0x"

	// Fallback when the origin has no chain at all.
	DefaultEvmChainIDHex = "0x1"
)
