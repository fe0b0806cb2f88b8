package config

import (
	"fmt"
	"os"
)

func Template() string {
	return daemonTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `[node]
id = "chunkwired"

[listen]
tcp_addr = ":7400"
admin_addr = ":7401"
ws_path = "/ws"
cors_origins = ["http://localhost:3000"]

# Zero values fall back to the protocol defaults.
[limits.c2s]
max_packet_size = 32767
max_chunk_size = 32762
max_payload_size = 1048576

[limits.s2c]
max_packet_size = 1048576
max_chunk_size = 1048571
max_payload_size = 67108864

[reassembly]
idle_timeout = "2m"
sweep_interval = "30s"
max_sessions = 0
strict = false

[transport]
handshake_timeout = "5s"
read_timeout = "0s"
write_timeout = "15s"
queue_depth = 256
max_channel_bytes = 256
close_on_protocol_error = false
# Clients must present this token in their hello when set.
token = ""
# Previous tokens still accepted while clients roll over.
accept_tokens = []

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`
