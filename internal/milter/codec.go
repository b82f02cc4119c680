/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package milter

import (
	"encoding/binary"
	"fmt"
	"net"
)

// connectInfo is the decoded SMFIC_CONNECT payload.
type connectInfo struct {
	hostname string
	family   byte
	port     uint16
	address  string
}

func decodeConnect(payload []byte) (connectInfo, error) {
	i := indexByte(payload, 0)
	if i < 0 {
		return connectInfo{}, fmt.Errorf("milter: malformed connect: missing hostname terminator")
	}
	info := connectInfo{hostname: string(payload[:i])}
	rest := payload[i+1:]
	if len(rest) == 0 {
		return connectInfo{}, fmt.Errorf("milter: malformed connect: missing family byte")
	}
	info.family = rest[0]
	rest = rest[1:]

	if info.family == SMFIA_UNKNOWN {
		return info, nil
	}
	if len(rest) < 2 {
		return connectInfo{}, fmt.Errorf("milter: malformed connect: missing port")
	}
	info.port = binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]

	j := indexByte(rest, 0)
	if j < 0 {
		j = len(rest)
	}
	info.address = string(rest[:j])
	return info, nil
}

func (c connectInfo) ip() net.IP {
	if c.address == "" {
		return nil
	}
	return net.ParseIP(c.address)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// decodeOptNeg decodes the MTA's SMFIC_OPTNEG proposal: version,
// action flags it allows, protocol flags it wants skipped.
func decodeOptNeg(payload []byte) (version, actions, protocol uint32, err error) {
	if len(payload) < 12 {
		return 0, 0, 0, fmt.Errorf("milter: malformed optneg payload")
	}
	version = binary.BigEndian.Uint32(payload[0:4])
	actions = binary.BigEndian.Uint32(payload[4:8])
	protocol = binary.BigEndian.Uint32(payload[8:12])
	return version, actions, protocol, nil
}

func encodeOptNeg(version, actions, protocol uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], version)
	binary.BigEndian.PutUint32(buf[4:8], actions)
	binary.BigEndian.PutUint32(buf[8:12], protocol)
	return buf
}

// decodeHeader splits a SMFIC_HEADER payload into name/value.
func decodeHeader(payload []byte) (name, value string) {
	parts := splitCStrings(payload)
	if len(parts) >= 1 {
		name = parts[0]
	}
	if len(parts) >= 2 {
		value = parts[1]
	}
	return name, value
}

// decodeAddrCmd splits a SMFIC_MAIL/SMFIC_RCPT payload: the first
// NUL-terminated string is the address, the rest are ESMTP args we
// don't otherwise act on.
func decodeAddrCmd(payload []byte) string {
	parts := splitCStrings(payload)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// decodeMacros splits a SMFIC_MACRO payload into its command code and
// a flat name/value list.
func decodeMacros(payload []byte) (cmdcode byte, kv []string) {
	if len(payload) == 0 {
		return 0, nil
	}
	return payload[0], splitCStrings(payload[1:])
}

func macroValue(kv []string, name string) (string, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == name {
			return kv[i+1], true
		}
	}
	return "", false
}

// encodeInsHeader builds the SMFIR_INSHEADER payload: a 4-byte
// big-endian insertion index followed by name\0value\0.
func encodeInsHeader(index uint32, name, value string) []byte {
	buf := make([]byte, 4, 4+len(name)+1+len(value)+1)
	binary.BigEndian.PutUint32(buf, index)
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, value...)
	buf = append(buf, 0)
	return buf
}

func encodeCString(s string) []byte {
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, 0)
	return buf
}
