// Package providers imports all rDNS provider packages to trigger their init() registration.
package providers

import (
	_ "github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns/hcloud"
	_ "github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns/robot"
)
