package audit

import (
	"strings"

	"token-lifecycle/backend/internal/audit/domain"
)

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// AuthService methods whose audit action differs from the generic verb mapping.
var methodOverrides = map[string]ActionResource{
	"Login":            {Action: domain.ActionLoginSuccess, Resource: domain.ResourceAuth},
	"Refresh":          {Action: domain.ActionTokenRefresh, Resource: domain.ResourceRefreshToken},
	"Logout":           {Action: domain.ActionLogout, Resource: domain.ResourceAuth},
	"LogoutAllDevices": {Action: domain.ActionLogoutAll, Resource: domain.ResourceAuth},
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /tokenlifecycle.auth.v1.AuthService/Login).
// AuthService methods map to the token lifecycle actions. Others use a verb (get, list, create, update, delete,
// revoke, or a lowercase method name) and a resource derived from the service name (BlacklistService -> blacklist).
func ParseFullMethod(fullMethod string) ActionResource {
	// fullMethod format: /package.v1.ServiceName/MethodName
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	serviceName := beforeSlash[dot+1:]
	if serviceName == "AuthService" {
		if ar, ok := methodOverrides[method]; ok {
			return ar
		}
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(serviceName)}
}

func serviceToResource(serviceName string) string {
	// AuthService -> auth, BlacklistService -> blacklist
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "get"
	case strings.HasPrefix(method, "List"), strings.HasPrefix(method, "Search"):
		return "list"
	case strings.HasPrefix(method, "Create"):
		return "create"
	case strings.HasPrefix(method, "Update"):
		return "update"
	case strings.HasPrefix(method, "Delete"), strings.HasPrefix(method, "Remove"):
		return "delete"
	case strings.HasPrefix(method, "Revoke"), strings.HasPrefix(method, "Blacklist"):
		return "revoke"
	default:
		return strings.ToLower(method)
	}
}
