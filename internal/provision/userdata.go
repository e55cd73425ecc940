package provision

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const cloudConfigTemplate = `#cloud-config
ssh_pwauth: no
users:
  - name: {{.Username}}
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
    ssh_authorized_keys:
      - "{{.PublicKey}}"
{{- if .InstallGPUDriver}}
runcmd:
  - [sh, -c, "nohup sh -c 'apt-get update && apt-get install -y ubuntu-drivers-common && ubuntu-drivers install' >/var/log/gpu-driver-install.log 2>&1 &"]
{{- end}}`

// CloudConfigData represents the data for the cloud-config template.
type CloudConfigData struct {
	Username         string
	PublicKey        string
	InstallGPUDriver bool
}

// GenerateCloudConfig generates cloud-config user-data from the template.
// The GPU driver install runs in the background so instance readiness is not
// gated on package downloads.
func GenerateCloudConfig(username, publicKey string, installGPUDriver bool) (string, error) {
	tmpl, err := template.New("cloud-config").Parse(cloudConfigTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloud-config template: %v", err)
	}

	data := CloudConfigData{
		Username:         username,
		PublicKey:        strings.TrimSpace(publicKey),
		InstallGPUDriver: installGPUDriver,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute cloud-config template: %v", err)
	}

	return buf.String(), nil
}
