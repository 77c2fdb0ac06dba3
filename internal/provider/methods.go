package provider

// Method is the EIP-1193 method name of a request.
type Method string

const (
	MethodEthAccounts        Method = "eth_accounts"
	MethodEthRequestAccounts Method = "eth_requestAccounts"
	MethodEthChainID         Method = "eth_chainId"
	MethodNetVersion         Method = "net_version"

	MethodRequestPermissions Method = "wallet_requestPermissions"
	MethodGetPermissions     Method = "wallet_getPermissions"
	MethodRevokePermissions  Method = "wallet_revokePermissions"

	MethodPersonalSign    Method = "personal_sign"
	MethodEthSign         Method = "eth_sign"
	MethodSignTypedData   Method = "eth_signTypedData"
	MethodSignTypedDataV3 Method = "eth_signTypedData_v3"
	MethodSignTypedDataV4 Method = "eth_signTypedData_v4"
	MethodSendTransaction Method = "eth_sendTransaction"
	MethodSignTransaction Method = "eth_signTransaction"

	MethodAddEthereumChain    Method = "wallet_addEthereumChain"
	MethodSwitchEthereumChain Method = "wallet_switchEthereumChain"
	MethodWatchAsset          Method = "wallet_watchAsset"
)

// LocalMethods is every method answered by the wallet rather than forwarded.
var LocalMethods = []Method{
	MethodEthAccounts,
	MethodEthRequestAccounts,
	MethodEthChainID,
	MethodNetVersion,
	MethodRequestPermissions,
	MethodGetPermissions,
	MethodRevokePermissions,
	MethodPersonalSign,
	MethodEthSign,
	MethodSignTypedData,
	MethodSignTypedDataV3,
	MethodSignTypedDataV4,
	MethodSendTransaction,
	MethodSignTransaction,
	MethodAddEthereumChain,
	MethodSwitchEthereumChain,
	MethodWatchAsset,
}
