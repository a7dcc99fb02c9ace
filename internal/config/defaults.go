package config

var defaults = map[string]any{
	"secret":    "",
	"token_ttl": 8 * 60 * 60,
	"log_level": "info",

	"listen":           ":8080",
	"base_url":         "http://localhost:8080/",
	"allowed_networks": "",

	"idempotency_store": "memory",
	"idempotency_ttl":   24 * 60 * 60,

	"rbac.policy_file": "",

	"email.host":     "host.docker.internal",
	"email.port":     25,
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",

	"notify.type":       "none",
	"notify.sns.region": "eu-north-1",

	"client.server_url": "http://localhost:8080",
	"client.token":      "",
	"client.timeout":    10,

	"workflow.chains.equipment": []string{"consultant", "inspector"},
	"workflow.chains.material":  []string{"consultant", "inspector"},

	"storage.local.path": "./data/storage.db",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
