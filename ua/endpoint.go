// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

// ApplicationType classifies an ApplicationDescription (Part 4, Sec 7.1).
type ApplicationType uint32

const (
	ApplicationTypeServer       ApplicationType = 0
	ApplicationTypeClient       ApplicationType = 1
	ApplicationTypeClientAndServer ApplicationType = 2
	ApplicationTypeDiscoveryServer ApplicationType = 3
)

// ApplicationDescription describes the client or server application at the
// other end of a connection (Part 4, Sec 7.1).
type ApplicationDescription struct {
	ApplicationURI      string
	ProductURI           string
	ApplicationName     string
	ApplicationType      ApplicationType
	GatewayServerURI    string
	DiscoveryProfileURI string
	DiscoveryURLs       []string
}

func (a *ApplicationDescription) Encode(e *Encoder) {
	if a == nil {
		a = &ApplicationDescription{}
	}
	e.WriteString(a.ApplicationURI)
	e.WriteString(a.ProductURI)
	e.WriteString(a.ApplicationName)
	e.WriteUint32(uint32(a.ApplicationType))
	e.WriteString(a.GatewayServerURI)
	e.WriteString(a.DiscoveryProfileURI)
	e.WriteInt32(int32(len(a.DiscoveryURLs)))
	for _, u := range a.DiscoveryURLs {
		e.WriteString(u)
	}
}

func DecodeApplicationDescription(d *Decoder) *ApplicationDescription {
	a := &ApplicationDescription{}
	a.ApplicationURI = d.ReadString()
	a.ProductURI = d.ReadString()
	a.ApplicationName = d.ReadString()
	a.ApplicationType = ApplicationType(d.ReadUint32())
	a.GatewayServerURI = d.ReadString()
	a.DiscoveryProfileURI = d.ReadString()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		a.DiscoveryURLs = append(a.DiscoveryURLs, d.ReadString())
	}
	return a
}

// EndpointDescription is a server-advertised connection point (Part 4, Sec 7.10).
type EndpointDescription struct {
	EndpointURL         string
	Server               *ApplicationDescription
	ServerCertificate   []byte
	SecurityMode         MessageSecurityMode
	SecurityPolicyURI   string
	UserIdentityTokens  []*UserTokenPolicy
	TransportProfileURI string
	SecurityLevel        byte
}

func (e0 *EndpointDescription) Encode(e *Encoder) {
	e.WriteString(e0.EndpointURL)
	e0.Server.Encode(e)
	e.WriteByteString(e0.ServerCertificate)
	e.WriteUint32(uint32(e0.SecurityMode))
	e.WriteString(e0.SecurityPolicyURI)
	e.WriteInt32(int32(len(e0.UserIdentityTokens)))
	for _, t := range e0.UserIdentityTokens {
		t.Encode(e)
	}
	e.WriteString(e0.TransportProfileURI)
	e.WriteByte(e0.SecurityLevel)
}

func DecodeEndpointDescription(d *Decoder) *EndpointDescription {
	ep := &EndpointDescription{}
	ep.EndpointURL = d.ReadString()
	ep.Server = DecodeApplicationDescription(d)
	ep.ServerCertificate = d.ReadByteString()
	ep.SecurityMode = MessageSecurityMode(d.ReadUint32())
	ep.SecurityPolicyURI = d.ReadString()
	n := d.ReadInt32()
	for i := int32(0); i < n; i++ {
		ep.UserIdentityTokens = append(ep.UserIdentityTokens, DecodeUserTokenPolicy(d))
	}
	ep.TransportProfileURI = d.ReadString()
	ep.SecurityLevel = d.ReadByte()
	return ep
}
