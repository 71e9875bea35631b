package packet

import (
	"strconv"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc3162"
	"layeh.com/radius/rfc4818"
)

// Kind describes how an attribute's value is encoded on the wire.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindIPAddr
	KindIPv6Addr
	KindIPv6Prefix
	KindInterfaceID
	KindOctets
	KindDate
)

type dictEntry struct {
	Type radius.Type
	Kind Kind
}

// dictionary maps the attribute names usable in configuration to their wire
// type and encoding. Names follow the conventional RADIUS dictionary
// spelling.
var dictionary = map[string]dictEntry{
	"User-Name":                {rfc2865.UserName_Type, KindString},
	"User-Password":            {rfc2865.UserPassword_Type, KindOctets},
	"CHAP-Password":            {rfc2865.CHAPPassword_Type, KindOctets},
	"NAS-IP-Address":           {rfc2865.NASIPAddress_Type, KindIPAddr},
	"NAS-Port":                 {rfc2865.NASPort_Type, KindInteger},
	"Service-Type":             {rfc2865.ServiceType_Type, KindInteger},
	"Framed-Protocol":          {rfc2865.FramedProtocol_Type, KindInteger},
	"Framed-IP-Address":        {rfc2865.FramedIPAddress_Type, KindIPAddr},
	"Framed-IP-Netmask":        {rfc2865.FramedIPNetmask_Type, KindIPAddr},
	"Framed-Routing":           {rfc2865.FramedRouting_Type, KindInteger},
	"Filter-Id":                {rfc2865.FilterID_Type, KindString},
	"Framed-MTU":               {rfc2865.FramedMTU_Type, KindInteger},
	"Framed-Compression":       {rfc2865.FramedCompression_Type, KindInteger},
	"Login-IP-Host":            {rfc2865.LoginIPHost_Type, KindIPAddr},
	"Login-Service":            {rfc2865.LoginService_Type, KindInteger},
	"Login-TCP-Port":           {rfc2865.LoginTCPPort_Type, KindInteger},
	"Reply-Message":            {rfc2865.ReplyMessage_Type, KindString},
	"Callback-Number":          {rfc2865.CallbackNumber_Type, KindString},
	"Callback-Id":              {rfc2865.CallbackID_Type, KindString},
	"Framed-Route":             {rfc2865.FramedRoute_Type, KindString},
	"Framed-IPX-Network":       {rfc2865.FramedIPXNetwork_Type, KindInteger},
	"State":                    {rfc2865.State_Type, KindOctets},
	"Class":                    {rfc2865.Class_Type, KindOctets},
	"Session-Timeout":          {rfc2865.SessionTimeout_Type, KindInteger},
	"Idle-Timeout":             {rfc2865.IdleTimeout_Type, KindInteger},
	"Termination-Action":       {rfc2865.TerminationAction_Type, KindInteger},
	"Called-Station-Id":        {rfc2865.CalledStationID_Type, KindString},
	"Calling-Station-Id":       {rfc2865.CallingStationID_Type, KindString},
	"NAS-Identifier":           {rfc2865.NASIdentifier_Type, KindString},
	"Proxy-State":              {rfc2865.ProxyState_Type, KindOctets},
	"Login-LAT-Service":        {rfc2865.LoginLATService_Type, KindString},
	"Login-LAT-Node":           {rfc2865.LoginLATNode_Type, KindString},
	"Login-LAT-Group":          {rfc2865.LoginLATGroup_Type, KindOctets},
	"Framed-AppleTalk-Link":    {rfc2865.FramedAppleTalkLink_Type, KindInteger},
	"Framed-AppleTalk-Network": {rfc2865.FramedAppleTalkNetwork_Type, KindInteger},
	"Framed-AppleTalk-Zone":    {rfc2865.FramedAppleTalkZone_Type, KindString},
	"CHAP-Challenge":           {rfc2865.CHAPChallenge_Type, KindOctets},
	"NAS-Port-Type":            {rfc2865.NASPortType_Type, KindInteger},
	"Port-Limit":               {rfc2865.PortLimit_Type, KindInteger},
	"Login-LAT-Port":           {rfc2865.LoginLATPort_Type, KindString},

	"Acct-Status-Type":       {rfc2866.AcctStatusType_Type, KindInteger},
	"Acct-Delay-Time":        {rfc2866.AcctDelayTime_Type, KindInteger},
	"Acct-Input-Octets":      {rfc2866.AcctInputOctets_Type, KindInteger},
	"Acct-Output-Octets":     {rfc2866.AcctOutputOctets_Type, KindInteger},
	"Acct-Session-Id":        {rfc2866.AcctSessionID_Type, KindString},
	"Acct-Authentic":         {rfc2866.AcctAuthentic_Type, KindInteger},
	"Acct-Session-Time":      {rfc2866.AcctSessionTime_Type, KindInteger},
	"Acct-Input-Packets":     {rfc2866.AcctInputPackets_Type, KindInteger},
	"Acct-Output-Packets":    {rfc2866.AcctOutputPackets_Type, KindInteger},
	"Acct-Terminate-Cause":   {rfc2866.AcctTerminateCause_Type, KindInteger},
	"Acct-Multi-Session-Id":  {rfc2866.AcctMultiSessionID_Type, KindString},
	"Acct-Link-Count":        {rfc2866.AcctLinkCount_Type, KindInteger},

	"NAS-IPv6-Address":    {rfc3162.NASIPv6Address_Type, KindIPv6Addr},
	"Framed-Interface-Id": {rfc3162.FramedInterfaceID_Type, KindInterfaceID},
	"Framed-IPv6-Prefix":  {rfc3162.FramedIPv6Prefix_Type, KindIPv6Prefix},
	"Login-IPv6-Host":     {rfc3162.LoginIPv6Host_Type, KindIPv6Addr},
	"Framed-IPv6-Route":   {rfc3162.FramedIPv6Route_Type, KindString},
	"Framed-IPv6-Pool":    {rfc3162.FramedIPv6Pool_Type, KindString},

	"Delegated-IPv6-Prefix": {rfc4818.DelegatedIPv6Prefix_Type, KindIPv6Prefix},
}

// typeNames is the reverse mapping, built once at init.
var typeNames = func() map[radius.Type]string {
	m := make(map[radius.Type]string, len(dictionary))
	for name, e := range dictionary {
		m[e.Type] = name
	}
	return m
}()

// AttributeName returns the dictionary name for a wire type. Unknown types
// get a stable numeric placeholder so they still appear in dialogs.
func AttributeName(t radius.Type) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Attr-" + strconv.Itoa(int(t))
}

// LookupAttribute returns the wire type and kind for a dictionary name.
func LookupAttribute(name string) (radius.Type, Kind, bool) {
	e, ok := dictionary[name]
	return e.Type, e.Kind, ok
}
