package customs

// Field name constants for every custom column the probe may emit, ported
// from original_source/src/custom.rs.
const (
	Fragments = "FRAGMENTS"

	AppLatency = "APPL_LATENCY_MS"
	FPXLatency = "FPEX_LATENCY_MS"

	ClientNWLatency = "CLIENT_NW_LATENCY_MS"
	ServerNWLatency = "SERVER_NW_LATENCY_MS"

	RetransmittedIn  = "RETRANSMITTED_IN_BYTES"
	RetransmittedOut = "RETRANSMITTED_OUT_BYTES"
	RepeatedRetransmits = "REPEATED_RETRANSMITS"
	OrderIn  = "OOORDER_IN_BYTES"
	OrderOut = "OOORDER_OUT_BYTES"

	ReceiveWindow = "RECEIVE_WINDOW_BYTES"
	ZeroWindows   = "ZERO_WINDOWS"

	ConnectionID = "CONNECTION_ID"

	KernelRetransmits = "KERNEL_RETRANSMITS"
	KernelRTT         = "KERNEL_RTT_MS"
	KernelCongWindow  = "KERNEL_CONG_WINDOW"

	AppProtocol = "APP_PROTOCOL"

	DNSQueryName = "DNS_QUERY_NAME"
	DNSQueryType = "DNS_QUERY_TYPE"
	DNSReplyCode = "DNS_REPLY_CODE"
	DNSReplyData = "DNS_REPLY_DATA"

	HTTPURL      = "HTTP_URL"
	HTTPHost     = "HTTP_HOST"
	HTTPReferer  = "HTTP_REFERER"
	HTTPUA       = "HTTP_UA"
	HTTPStatus   = "HTTP_STATUS"

	TLSServerName    = "TLS_SERVER_NAME"
	TLSServerVersion = "TLS_SERVER_VERSION"
	TLSCipherSuite   = "TLS_CIPHER_SUITE"

	DHCPOp       = "DHCP_OP"
	DHCPMsgType  = "DHCP_MSG_TYPE"
	DHCPCHAddr   = "DHCP_CHADDR"
	DHCPCIAddr   = "DHCP_CIADDR"
	DHCPYIAddr   = "DHCP_YIADDR"
	DHCPSIAddr   = "DHCP_SIADDR"
	DHCPHostname = "DHCP_HOSTNAME"
	DHCPDomain   = "DHCP_DOMAIN"
	DHCPLease    = "DHCP_LEASE"

	RadiusCode          = "RADIUS_CODE"
	RadiusUserName      = "RADIUS_USER_NAME"
	RadiusServiceType   = "RADIUS_SERVICE_TYPE"
	RadiusFramedIPAddr  = "RADIUS_FRAMED_IP_ADDR"
	RadiusFramedIPMask  = "RADIUS_FRAMED_IP_MASK"
	RadiusFramedProto   = "RADIUS_FRAMED_PROTO"
	RadiusAcctSessionID = "RADIUS_ACCT_SESSION_ID"
	RadiusAcctStatus    = "RADIUS_ACCT_STATUS_TYPE"
)

// App protocol tag discriminators, used when the dictionary operates in
// alias-table sentinel mode (see Dictionary.AliasMode).
const (
	TagDNS     = 1
	TagHTTP    = 2
	TagTLS     = 3
	TagDHCP    = 4
	TagRADIUS  = 9
)
