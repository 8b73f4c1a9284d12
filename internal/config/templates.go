package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `log_level = "info"

[mllp]
hostname = "0.0.0.0"
port = 2575
bind_timeout = "30s"
bind_retry_interval = "5s"
lenient_bind = false
accept_timeout = "60s"
receive_timeout = "15s"
read_timeout = "5s"
send_timeout = "15s"
idle_timeout = "0s"
idle_timeout_strategy = "reset"
keep_alive = true
tcp_no_delay = true
reuse_address = true
receive_buffer_size = 8192
send_buffer_size = 8192
auto_ack = true
hl7_headers = true
require_end_of_data = true
validate_payload = false
charset = ""
max_concurrent_consumers = 5
liveness_probe_timeout = "250ms"
log_sensitive_data = false
log_sensitive_max_bytes = 1024
security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[admin]
addr = "127.0.0.1:9180"
name = "mllpctl"
cors_origins = ["http://localhost:3000"]
token = ""
`

const clientTemplate = `log_level = "info"

[mllp]
hostname = "127.0.0.1"
port = 2575
connect_timeout = "30s"
receive_timeout = "15s"
read_timeout = "5s"
send_timeout = "15s"
idle_timeout = "0s"
idle_timeout_strategy = "reset"
keep_alive = true
tcp_no_delay = true
require_end_of_data = true
validate_payload = false
charset = ""
log_sensitive_data = false
security_mode = "development"

[tls]
enabled = false
ca_file = ""
server_name = ""
insecure_skip_verify = false
`
