package executor

// messages logged by the executor
const (
	msgSettings    = "These are the configuration settings that can be set."
	msgInformation = "Runs a node of the nodexec peer-to-peer network."

	msgUninitializedChain = "The %s directory is not initialized."
	msgInitializingChain  = "Please wait while initializing %s directory..."
	msgInitChainNew       = "Failed to create directory %s with error, '%v'."
	msgInitChainExists    = "Failed because the directory %s already exists."
	msgInitChainTry       = "Failed to test directory %s with error, '%v'."
	msgInitChainCreated   = "Directory %s has been initialized."

	msgNodeInterrupt  = "Press CTRL-C to stop the node."
	msgNodeStarting   = "Please wait while the node is starting..."
	msgNodeStartFail  = "Node failed to start with error, %v."
	msgNodeStarted    = "Node is started."
	msgNodeSeedFail   = "Seeding failed with error, %v."
	msgNodeSeeded     = "Seeding is complete."
	msgNodeSyncFail   = "Synchronization failed with error, %v."
	msgNodeSyncIgnore = "Synchronization failed with error, %v. The node keeps running."
	msgNodeSynced     = "Synchronization is complete."
	msgNodeFault      = "Node reported fault: %v"

	msgNodeStopping  = "Please wait while the node is stopping (code: %d)..."
	msgNodeUnmapping = "Please wait while files are unmapped..."
	msgNodeStopFail  = "Node stopped with error, %v."
	msgNodeStopped   = "Node stopped successfully."

	msgUsingConfigFile    = "Using config file: %s"
	msgUsingDefaultConfig = "Using default configuration settings."
	msgInvalidConfig      = "Invalid configuration: %v"
)
