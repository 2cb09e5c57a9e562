package config

import (
	"fmt"
	"os"
)

func Template(kind Kind) (string, error) {
	switch kind {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func WriteTemplate(path string, kind Kind, overwrite bool) error {
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

const serverTemplate = `# simpctl server
user = "server"
listen = "localhost:8745"

# retransmissions of one message before giving up; 0 retries forever
max_retries = 0
# peers served at once; further peers are told the server is busy
max_sessions = 1

# optional HTTP admin surface (/health, /sessions, /metrics)
admin_listen = ""
# browser origins allowed to query the admin surface
admin_cors_origins = []
# bearer token required on /sessions and /metrics when set
admin_token = ""

# simulated network faults, probabilities in [0, 1]
loss_rate = 0.0
duplicate_rate = 0.0
`

const clientTemplate = `# simpctl client
user = "client"
address = "localhost:8745"

# retransmissions of one message before giving up; 0 retries forever
max_retries = 0
# handshake attempts before giving up
max_connect_attempts = 3

admin_listen = ""
admin_cors_origins = []
admin_token = ""

loss_rate = 0.0
duplicate_rate = 0.0
`
