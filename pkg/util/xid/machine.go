package xid

import (
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"
	"os"
	"strconv"
)

// EnvMachineID 直接指定机器 ID 的环境变量（0-65535）。
const EnvMachineID = "MSGGATE_MACHINE_ID"

// 测试注入点。
var (
	osHostname        = os.Hostname
	netInterfaceAddrs = net.InterfaceAddrs
)

// DefaultMachineID 获取机器 ID，按以下优先级尝试：
//
//  1. MSGGATE_MACHINE_ID 环境变量（直接指定数字 0-65535）
//  2. 主机名的 FNV 哈希（容器内即 Pod 名）
//  3. 私有 IP 地址的低 16 位（sonyflake 默认方式）
//
// 哈希策略存在生日碰撞风险（100 节点约 7% 概率），
// 大规模部署请通过环境变量显式分配。
func DefaultMachineID() (uint16, error) {
	if s := os.Getenv(EnvMachineID); s != "" {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s value %q: %w", EnvMachineID, s, err)
		}
		return uint16(id), nil
	}

	if hostname, err := osHostname(); err == nil && hostname != "" {
		return hashToMachineID(hostname), nil
	}

	return machineIDFromPrivateIP()
}

// hashToMachineID 将字符串哈希为 16 位机器 ID。
// FNV-1a 的 32 位结果经 XOR 折叠为 16 位，分布优于简单截断。
func hashToMachineID(s string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	b := h.Sum(nil)
	hi := uint16(b[0])<<8 | uint16(b[1])
	lo := uint16(b[2])<<8 | uint16(b[3])
	return hi ^ lo
}

// machineIDFromPrivateIP 取私有 IPv4 地址的低 16 位。
func machineIDFromPrivateIP() (uint16, error) {
	addrs, err := netInterfaceAddrs()
	if err != nil {
		return 0, err
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.IsLoopback() || !ip.Is4() {
			continue
		}
		if ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			b := ip.As4()
			return uint16(b[2])<<8 + uint16(b[3]), nil
		}
	}
	return 0, ErrNoPrivateAddress
}
