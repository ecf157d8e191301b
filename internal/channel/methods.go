package channel

// 桥接暴露的能力方法名，页面、中继、主机三方共享。
const (
	MethodGetWalletAddress  = "GET_WALLET_ADDRESS"
	MethodSignTransaction   = "SIGN_TRANSACTION"
	MethodGetBalance        = "GET_BALANCE"
	MethodGetChainID        = "GET_CHAIN_ID"
	MethodGetNetworkVersion = "GET_NETWORK_VERSION"
)
