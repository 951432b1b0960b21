package swarmhost

// Config mirrors the source's peer.swarm bootstrap options (spec §6), the
// libp2p-side counterpart of the teacher's core.Config.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}
