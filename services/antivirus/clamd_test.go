package antivirus

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/vtesting"
)

// Answers clamd commands with canned replies.
type fakeClamd struct {
	mu       sync.Mutex
	commands []string
	replies  map[string]string

	listener net.Listener
	wg       sync.WaitGroup
}

func (self *fakeClamd) serve() {
	defer self.wg.Done()

	for {
		conn, err := self.listener.Accept()
		if err != nil {
			return
		}

		reader := bufio.NewReader(conn)
		command, err := reader.ReadString(0)
		if err != nil {
			conn.Close()
			continue
		}
		command = strings.TrimSuffix(strings.TrimPrefix(command, "z"), "\x00")

		self.mu.Lock()
		self.commands = append(self.commands, command)
		verb := strings.SplitN(command, " ", 2)[0]
		reply := self.replies[verb]
		self.mu.Unlock()

		_, _ = conn.Write([]byte(reply))
		conn.Close()
	}
}

func (self *fakeClamd) Commands() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string{}, self.commands...)
}

func (self *fakeClamd) Close() {
	self.listener.Close()
	self.wg.Wait()
}

type ClamdTestSuite struct {
	suite.Suite

	config_obj *config_proto.Config
	socket     string
	clamd      *fakeClamd
	dir        string
}

func (self *ClamdTestSuite) SetupTest() {
	self.config_obj = vtesting.GetTestConfig(self.T())

	// Unix socket paths are limited in length.
	tmpdir, err := os.MkdirTemp("", "clamd")
	require.NoError(self.T(), err)
	self.T().Cleanup(func() { os.RemoveAll(tmpdir) })

	self.socket = filepath.Join(tmpdir, "clamd.sock")
	listener, err := net.Listen("unix", self.socket)
	require.NoError(self.T(), err)

	self.dir = filepath.Join(self.T().TempDir(), "pslist")
	self.clamd = &fakeClamd{
		listener: listener,
		replies: map[string]string{
			"PING": "PONG\x00",
			"MULTISCAN": self.dir + "/pid.1.exe: OK\x00" +
				self.dir + "/pid.2.exe: Win.Test.EICAR_HDB-1 FOUND\x00",
		},
	}
	self.clamd.wg.Add(1)
	go self.clamd.serve()

	self.config_obj.Antivirus.Implementation = "clamd"
	self.config_obj.Antivirus.ClamdSocket = self.socket
}

func (self *ClamdTestSuite) TearDownTest() {
	self.clamd.Close()
	services.RegisterAntivirusScanner(nil)
}

func (self *ClamdTestSuite) TestPing() {
	scanner := NewClamdScanner(self.config_obj.Antivirus)
	assert.NoError(self.T(), scanner.Ping(context.Background()))
	assert.Equal(self.T(), []string{"PING"}, self.clamd.Commands())
}

func (self *ClamdTestSuite) TestScanDirectory() {
	scanner := NewClamdScanner(self.config_obj.Antivirus)
	verdicts, err := scanner.ScanDirectory(context.Background(), self.dir)
	require.NoError(self.T(), err)

	assert.Equal(self.T(), map[string]string{
		self.dir + "/pid.2.exe": "Win.Test.EICAR_HDB-1",
	}, verdicts)
	assert.Equal(self.T(), []string{"MULTISCAN " + self.dir},
		self.clamd.Commands())
}

func (self *ClamdTestSuite) TestStartRegistersScanner() {
	err := StartAntivirusService(context.Background(), &sync.WaitGroup{},
		self.config_obj)
	require.NoError(self.T(), err)

	scanner := services.GetAntivirusScanner()
	require.NotNil(self.T(), scanner)

	verdicts, err := scanner.ScanDirectory(context.Background(), self.dir)
	require.NoError(self.T(), err)
	assert.Len(self.T(), verdicts, 1)
}

func (self *ClamdTestSuite) TestUnreachableDaemon() {
	self.config_obj.Antivirus.ClamdSocket = self.socket + ".missing"
	scanner := NewClamdScanner(self.config_obj.Antivirus)

	_, err := scanner.ScanDirectory(context.Background(), self.dir)
	assert.Error(self.T(), err)
}

func TestClamd(t *testing.T) {
	suite.Run(t, &ClamdTestSuite{})
}

func TestParseScanReplies(t *testing.T) {
	verdicts, err := parseScanReplies([]string{
		"/tmp/a: OK",
		"/tmp/dir: with: colons: Eicar-Signature FOUND",
		"/tmp/c: lstat() failed: No such file or directory. ERROR",
	})
	assert.Equal(t, map[string]string{
		"/tmp/dir: with: colons": "Eicar-Signature",
	}, verdicts)
	assert.ErrorContains(t, err, "/tmp/c")
}

func TestNoImplementation(t *testing.T) {
	config_obj := vtesting.GetTestConfig(t)
	config_obj.Antivirus.Implementation = ""

	scanner, err := NewScanner(config_obj)
	assert.NoError(t, err)
	assert.Nil(t, scanner)

	config_obj.Antivirus.Implementation = "mcafee"
	_, err = NewScanner(config_obj)
	assert.Error(t, err)
}
