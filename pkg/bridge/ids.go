// Copyright 2025-2026 spore.ink

package bridge

import (
	"strconv"
	"strings"
)

// virtualPrefix namespaces all bridge-managed identifiers on the Matrix
// side. Both virtual user localparts and bridged room aliases use it, so a
// single prefix registration in the appservice manifest covers both.
const virtualPrefix = "_qq_"

// VirtualLocalpart returns the Matrix localpart of the virtual user
// representing the given QQ user. The mapping is pure and injective: the
// prefix plus decimal encoding never collides for distinct ids.
func VirtualLocalpart(userID int64) string {
	return virtualPrefix + strconv.FormatInt(userID, 10)
}

// AliasLocalpart returns the localpart of the room alias for a QQ group.
func AliasLocalpart(groupID int64) string {
	return virtualPrefix + strconv.FormatInt(groupID, 10)
}

// RoomAlias returns the full Matrix room alias for a QQ group on the given
// homeserver, e.g. "#_qq_123:example.com".
func RoomAlias(groupID int64, homeserverName string) string {
	return "#" + AliasLocalpart(groupID) + ":" + homeserverName
}

// ParseAliasLocalpart recovers the QQ group id from an alias localpart.
// It returns false for localparts outside the bridge's naming scheme.
func ParseAliasLocalpart(localpart string) (int64, bool) {
	rest, ok := strings.CutPrefix(localpart, virtualPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsVirtualLocalpart reports whether a Matrix localpart belongs to a
// bridge-managed virtual user. Used for echo prevention: events posted by
// virtual users must never be relayed back to QQ.
func IsVirtualLocalpart(localpart string) bool {
	_, ok := ParseAliasLocalpart(localpart)
	return ok
}
